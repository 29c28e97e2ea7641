// Package production consumes raw materials into finished goods. Materials
// leave stock when an order starts, finished goods arrive when it completes,
// and cancelling a started order gives the materials back.
package production

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/saga"
	"github.com/diewo77/go-ledger/internal/sequence"
	"github.com/diewo77/go-ledger/internal/stock"
	"github.com/diewo77/go-ledger/internal/validation"
)

type NumberSource interface {
	Number(ctx context.Context, prefix string, exists sequence.ExistsFunc) (string, error)
}

type Service struct {
	db      *gorm.DB
	stock   *stock.Ledger
	numbers NumberSource
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(db *gorm.DB, st *stock.Ledger, numbers NumberSource, log zerolog.Logger) *Service {
	return &Service{db: db, stock: st, numbers: numbers, log: log.With().Str("component", "production").Logger(), now: time.Now}
}

type MaterialInput struct {
	ItemID   uint  `json:"item_id"`
	Quantity int64 `json:"quantity"`
}

type CreateInput struct {
	ItemID    uint            `json:"item_id"`
	Quantity  int64           `json:"quantity"`
	Materials []MaterialInput `json:"materials"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.ProductionOrder, error) {
	v := validation.Violations{}
	if in.ItemID == 0 {
		v["item_id"] = "required"
	}
	validation.PositiveInt("quantity", in.Quantity, v)
	if len(in.Materials) == 0 {
		v["materials"] = "required"
	}
	for i, m := range in.Materials {
		field := fmt.Sprintf("materials[%d]", i)
		validation.PositiveInt(field+".quantity", m.Quantity, v)
		if m.ItemID == in.ItemID {
			v[field+".item_id"] = "same_as_product"
		}
	}
	if err := apperr.FromViolations(v); err != nil {
		return nil, err
	}
	if _, err := s.stock.Get(ctx, in.ItemID); err != nil {
		return nil, err
	}
	mats := make([]models.ProductionMaterial, 0, len(in.Materials))
	for _, m := range in.Materials {
		if _, err := s.stock.Get(ctx, m.ItemID); err != nil {
			return nil, err
		}
		mats = append(mats, models.ProductionMaterial{ItemID: m.ItemID, Quantity: m.Quantity})
	}
	number, err := s.numbers.Number(ctx, sequence.PrefixProduction, sequence.Taken(s.db, &models.ProductionOrder{}))
	if err != nil {
		return nil, apperr.Unexpected("production.create", err)
	}
	order := models.ProductionOrder{
		Number:    number,
		ItemID:    in.ItemID,
		Quantity:  in.Quantity,
		Status:    models.ProductionPlanned,
		Materials: mats,
	}
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, apperr.Unexpected("production.create", err)
	}
	return &order, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.ProductionOrder, error) {
	var order models.ProductionOrder
	if err := s.db.WithContext(ctx).Preload("Materials").First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("production_order", id)
		}
		return nil, fmt.Errorf("load production order %d: %w", id, err)
	}
	return &order, nil
}

func (s *Service) List(ctx context.Context, status models.ProductionStatus) ([]models.ProductionOrder, error) {
	q := s.db.WithContext(ctx).Preload("Materials").Order("id")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.ProductionOrder
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list production orders: %w", err)
	}
	return out, nil
}

func invalidTransition(from models.ProductionStatus) error {
	return apperr.Validation("status", "invalid_transition_from_"+string(from))
}

// Start consumes every material. All materials are checked first so that a
// shortage on any of them leaves stock untouched.
func (s *Service) Start(ctx context.Context, id uint) (*models.ProductionOrder, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.ProductionPlanned {
		return nil, invalidTransition(order.Status)
	}
	deltas := make([]stock.Delta, 0, len(order.Materials))
	for _, m := range order.Materials {
		deltas = append(deltas, stock.Delta{ItemID: m.ItemID, Qty: -m.Quantity})
	}
	if err := s.stock.Check(ctx, deltas); err != nil {
		return nil, err
	}
	sg := saga.New("production.start", s.log)
	err = sg.Run(ctx, func(ctx context.Context) error {
		for _, m := range order.Materials {
			if err := s.move(ctx, sg, m.ItemID, -m.Quantity); err != nil {
				return err
			}
		}
		now := s.now()
		return s.transition(ctx, sg, order, models.ProductionInProgress, map[string]any{"started_at": now})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Complete adds the produced quantity of the finished item to stock.
func (s *Service) Complete(ctx context.Context, id uint) (*models.ProductionOrder, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.ProductionInProgress {
		return nil, invalidTransition(order.Status)
	}
	sg := saga.New("production.complete", s.log)
	err = sg.Run(ctx, func(ctx context.Context) error {
		if err := s.move(ctx, sg, order.ItemID, order.Quantity); err != nil {
			return err
		}
		return s.transition(ctx, sg, order, models.ProductionCompleted, map[string]any{"completed_at": s.now()})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("number", order.Number).Int64("quantity", order.Quantity).Msg("production completed")
	return s.Get(ctx, id)
}

// Cancel stops a planned or started order, returning consumed materials.
func (s *Service) Cancel(ctx context.Context, id uint) (*models.ProductionOrder, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.ProductionPlanned && order.Status != models.ProductionInProgress {
		return nil, invalidTransition(order.Status)
	}
	sg := saga.New("production.cancel", s.log)
	err = sg.Run(ctx, func(ctx context.Context) error {
		if order.Status == models.ProductionInProgress {
			for i := len(order.Materials) - 1; i >= 0; i-- {
				m := order.Materials[i]
				if err := s.move(ctx, sg, m.ItemID, m.Quantity); err != nil {
					return err
				}
			}
		}
		return s.transition(ctx, sg, order, models.ProductionCancelled, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) move(ctx context.Context, sg *saga.Saga, itemID uint, delta int64) error {
	if _, err := s.stock.Adjust(ctx, itemID, delta); err != nil {
		return err
	}
	sg.Push(fmt.Sprintf("stock item %d %+d", itemID, delta), func(ctx context.Context) error {
		_, err := s.stock.Adjust(ctx, itemID, -delta)
		return err
	})
	return nil
}

func (s *Service) transition(ctx context.Context, sg *saga.Saga, order *models.ProductionOrder, to models.ProductionStatus, extra map[string]any) error {
	update := map[string]any{"status": to}
	for k, v := range extra {
		update[k] = v
	}
	if err := s.db.WithContext(ctx).Model(&models.ProductionOrder{}).Where("id = ?", order.ID).Updates(update).Error; err != nil {
		return fmt.Errorf("production order %d to %s: %w", order.ID, to, err)
	}
	prev := map[string]any{"status": order.Status, "started_at": order.StartedAt, "completed_at": order.CompletedAt}
	sg.Push(fmt.Sprintf("order %d %s", order.ID, to), func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&models.ProductionOrder{}).Where("id = ?", order.ID).Updates(prev).Error
	})
	return nil
}

// Stale lists in-progress orders started before now - after.
func (s *Service) Stale(ctx context.Context, after time.Duration) ([]models.ProductionOrder, error) {
	cutoff := s.now().Add(-after)
	var out []models.ProductionOrder
	err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", models.ProductionInProgress, cutoff).
		Order("started_at").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("stale production orders: %w", err)
	}
	return out, nil
}
