package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/relayflow/internal/database"
	"github.com/BaSui01/relayflow/types"
)

// GormStore is the relational implementation of Store. It is the source of
// truth for the engine; the thread cache is only an index over it.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps a gorm connection and migrates the engine tables.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.AutoMigrate(
		&Handoff{},
		&Comment{},
		&AssignmentRecord{},
		&Agent{},
		&Message{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate handoff tables: %w", err)
	}

	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "handoff_store")),
	}, nil
}

// orderColumns whitelists sortable columns so pagination knobs cannot inject
// arbitrary SQL.
var orderColumns = map[string]bool{
	"id":          true,
	"status":      true,
	"created_at":  true,
	"updated_at":  true,
	"assigned_at": true,
	"resolved_at": true,
}

func orderClause(q ListQuery, fallback string) string {
	col := q.OrderBy
	if !orderColumns[col] {
		col = fallback
	}
	if q.Direction == SortDesc {
		return col + " DESC"
	}
	return col + " ASC"
}

// =============================================================================
// Handoffs
// =============================================================================

func (s *GormStore) CreateHandoff(ctx context.Context, h *Handoff) error {
	if err := s.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("failed to create handoff: %w", err)
	}
	return nil
}

func (s *GormStore) GetHandoff(ctx context.Context, id string) (*Handoff, error) {
	var h Handoff
	err := s.db.WithContext(ctx).Preload("Comments").First(&h, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrHandoffNotFound, "handoff not found: "+id)
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *GormStore) SaveHandoff(ctx context.Context, h *Handoff) error {
	return s.db.WithContext(ctx).Omit("Comments").Save(h).Error
}

// TransitionHandoff is the guarded status write: the UPDATE carries a
// WHERE status = from predicate, so a concurrent transition loses the race
// instead of overwriting it.
func (s *GormStore) TransitionHandoff(ctx context.Context, id string, from, to Status, apply func(*Handoff)) (*Handoff, error) {
	var out *Handoff
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Handoff{}).
			Where("id = ? AND status = ?", id, from).
			Update("status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&Handoff{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return types.NewError(types.ErrHandoffNotFound, "handoff not found: "+id)
			}
			return types.NewError(types.ErrConflict,
				fmt.Sprintf("handoff %s is no longer %s", id, from))
		}

		var h Handoff
		if err := tx.First(&h, "id = ?", id).Error; err != nil {
			return err
		}
		if apply != nil {
			apply(&h)
			h.Status = to
			if err := tx.Omit("Comments").Save(&h).Error; err != nil {
				return err
			}
		}
		out = &h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListHandoffs(ctx context.Context, filter HandoffFilter) ([]*Handoff, error) {
	q := s.db.WithContext(ctx).Model(&Handoff{})
	if filter.BotID != "" {
		q = q.Where("bot_id = ?", filter.BotID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	q = q.Order(orderClause(filter.ListQuery, "created_at"))
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var out []*Handoff
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}

	// Tags live in a JSON column, so tag filtering happens after the query.
	if len(filter.Tags) > 0 {
		filtered := out[:0]
		for _, h := range out {
			for _, tag := range filter.Tags {
				if h.Tags.Has(tag) {
					filtered = append(filtered, h)
					break
				}
			}
		}
		out = filtered
	}
	return out, nil
}

func (s *GormStore) ListActiveHandoffs(ctx context.Context, botID string) ([]*Handoff, error) {
	q := s.db.WithContext(ctx).
		Where("status IN ?", []Status{StatusPending, StatusAssigned})
	if botID != "" {
		q = q.Where("bot_id = ?", botID)
	}
	var out []*Handoff
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListAssignedTo(ctx context.Context, botID, agentID string) ([]*Handoff, error) {
	q := s.db.WithContext(ctx).
		Where("agent_id = ? AND status = ?", agentID, StatusAssigned)
	if botID != "" {
		q = q.Where("bot_id = ?", botID)
	}
	var out []*Handoff
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) CountAssigned(ctx context.Context, agentID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Handoff{}).
		Where("agent_id = ? AND status = ?", agentID, StatusAssigned).
		Count(&count).Error
	return count, err
}

// =============================================================================
// Comments and assignment history
// =============================================================================

func (s *GormStore) AppendComment(ctx context.Context, c *Comment) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *GormStore) AppendAssignment(ctx context.Context, rec *AssignmentRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *GormStore) ListAssignments(ctx context.Context, handoffID string) ([]*AssignmentRecord, error) {
	var out []*AssignmentRecord
	err := s.db.WithContext(ctx).
		Where("handoff_id = ?", handoffID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// =============================================================================
// Agents
// =============================================================================

func (s *GormStore) UpsertAgent(ctx context.Context, a *Agent) error {
	return s.db.WithContext(ctx).Save(a).Error
}

func (s *GormStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrAgentNotFound, "agent not found: "+id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *GormStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	var out []*Agent
	err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) ListOnlineAgents(ctx context.Context, now time.Time) ([]*Agent, error) {
	var out []*Agent
	err := s.db.WithContext(ctx).
		Where("online = ? AND online_until > ?", true, now).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) SetAgentOnline(ctx context.Context, id string, online bool, until *time.Time) error {
	res := s.db.WithContext(ctx).Model(&Agent{}).
		Where("id = ?", id).
		Updates(map[string]any{"online": online, "online_until": until})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrAgentNotFound, "agent not found: "+id)
	}
	return nil
}

// =============================================================================
// Message log
// =============================================================================

func (s *GormStore) AppendMessage(ctx context.Context, m *Message) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) ListMessages(ctx context.Context, botID, threadID string, q ListQuery) ([]*Message, error) {
	query := s.db.WithContext(ctx).
		Where("bot_id = ? AND thread_id = ?", botID, threadID).
		Order(orderClause(q, "created_at"))
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	var out []*Message
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *GormStore) Ping(ctx context.Context) error {
	return database.Ping(ctx, s.db)
}

func (s *GormStore) Close() error {
	return database.Close(s.db)
}

var _ Store = (*GormStore)(nil)
