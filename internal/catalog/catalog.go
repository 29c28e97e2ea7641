// Package catalog resolves item references on transaction lines, minting new
// items when the caller describes one that does not exist yet.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/validation"
)

const (
	codePrefix    = "CAT-"
	codeAttempts  = 5
	nearDuplicate = 2 // max edit distance reported as a possible duplicate
)

// ItemRef identifies an item by id, by code, or by descriptive data.
type ItemRef struct {
	ID        uint            `json:"item_id,omitempty"`
	Code      string          `json:"code,omitempty"`
	Name      string          `json:"name,omitempty"`
	Category  string          `json:"category,omitempty"`
	Variant   string          `json:"variant,omitempty"`
	Kind      models.ItemKind `json:"kind,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CanCreate reports whether the reference carries enough to mint an item.
func (r ItemRef) CanCreate() bool {
	return strings.TrimSpace(r.Name) != "" && strings.TrimSpace(r.Category) != "" && strings.TrimSpace(r.Variant) != ""
}

// Empty reports whether the reference names nothing at all.
func (r ItemRef) Empty() bool {
	return r.ID == 0 && strings.TrimSpace(r.Code) == "" && strings.TrimSpace(r.Name) == ""
}

type Resolver struct {
	db  *gorm.DB
	log zerolog.Logger
}

func New(db *gorm.DB, log zerolog.Logger) *Resolver {
	return &Resolver{db: db, log: log.With().Str("component", "catalog").Logger()}
}

func (r *Resolver) Get(ctx context.Context, id uint) (*models.Item, error) {
	var it models.Item
	if err := r.db.WithContext(ctx).First(&it, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("item", id)
		}
		return nil, fmt.Errorf("load item %d: %w", id, err)
	}
	return &it, nil
}

// Find looks an item up. An explicit id or code must exist; a name lookup
// (case-insensitive, with variant) returns nil, nil when nothing matches.
func (r *Resolver) Find(ctx context.Context, ref ItemRef) (*models.Item, error) {
	switch {
	case ref.ID != 0:
		return r.Get(ctx, ref.ID)
	case strings.TrimSpace(ref.Code) != "":
		var it models.Item
		err := r.db.WithContext(ctx).Where("code = ?", strings.ToUpper(strings.TrimSpace(ref.Code))).First(&it).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("item", ref.Code)
		}
		if err != nil {
			return nil, fmt.Errorf("find item by code: %w", err)
		}
		return &it, nil
	case strings.TrimSpace(ref.Name) != "":
		var it models.Item
		err := r.db.WithContext(ctx).
			Where("LOWER(name) = ? AND LOWER(variant) = ?", normalize(ref.Name), normalize(ref.Variant)).
			Order("id").First(&it).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find item by name: %w", err)
		}
		return &it, nil
	}
	return nil, apperr.Validation("item", "required")
}

// Create mints a new item with a generated short code.
func (r *Resolver) Create(ctx context.Context, ref ItemRef) (*models.Item, error) {
	v := validation.Violations{}
	validation.Required("name", ref.Name, v)
	validation.Required("category", ref.Category, v)
	validation.Required("variant", ref.Variant, v)
	validation.NonNegativeDecimal("unit_price", ref.UnitPrice, v)
	kind := ref.Kind
	if kind == "" {
		kind = models.ItemKindFinishedGood
	} else if !kind.Valid() {
		v["kind"] = "invalid"
	}
	if err := apperr.FromViolations(v); err != nil {
		return nil, err
	}
	r.warnNearDuplicates(ctx, ref.Name)

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := NewCode()
		var n int64
		if err := r.db.WithContext(ctx).Model(&models.Item{}).Where("code = ?", code).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("check item code: %w", err)
		}
		if n > 0 {
			continue
		}
		it := models.Item{
			Code:      code,
			Name:      strings.TrimSpace(ref.Name),
			Category:  strings.TrimSpace(ref.Category),
			Variant:   strings.TrimSpace(ref.Variant),
			Kind:      kind,
			UnitPrice: ref.UnitPrice,
		}
		if err := r.db.WithContext(ctx).Create(&it).Error; err != nil {
			return nil, fmt.Errorf("create item: %w", err)
		}
		r.log.Info().Uint("item_id", it.ID).Str("code", it.Code).Str("name", it.Name).Msg("item created")
		return &it, nil
	}
	return nil, fmt.Errorf("create item: no free code after %d attempts", codeAttempts)
}

// Resolve finds the referenced item or creates it. created tells the caller
// it owns the new row and must delete it if the operation is aborted.
func (r *Resolver) Resolve(ctx context.Context, ref ItemRef) (item *models.Item, created bool, err error) {
	it, err := r.Find(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	if it != nil {
		return it, false, nil
	}
	if !ref.CanCreate() {
		return nil, false, apperr.Validation("item", "unresolved_item")
	}
	it, err = r.Create(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	return it, true, nil
}

// Delete removes an item. Only used to drop items minted by an aborted operation.
func (r *Resolver) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Item{}, id).Error; err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	return nil
}

// Filter narrows List. Query matches name or code.
type Filter struct {
	Kind     models.ItemKind
	Query    string
	LowStock int64 // when > 0, only items with quantity <= LowStock
}

func (r *Resolver) List(ctx context.Context, f Filter) ([]models.Item, error) {
	q := r.db.WithContext(ctx).Order("name, id")
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if s := normalize(f.Query); s != "" {
		like := "%" + s + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(code) LIKE ?", like, like)
	}
	if f.LowStock > 0 {
		q = q.Where("quantity <= ?", f.LowStock)
	}
	var out []models.Item
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return out, nil
}

// NearDuplicates returns existing items whose name is within a small edit
// distance of name.
func (r *Resolver) NearDuplicates(ctx context.Context, name string) ([]models.Item, error) {
	var all []models.Item
	if err := r.db.WithContext(ctx).Select("id", "code", "name", "variant").Find(&all).Error; err != nil {
		return nil, err
	}
	target := normalize(name)
	var out []models.Item
	for _, it := range all {
		if levenshtein.ComputeDistance(target, normalize(it.Name)) <= nearDuplicate {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *Resolver) warnNearDuplicates(ctx context.Context, name string) {
	dups, err := r.NearDuplicates(ctx, name)
	if err != nil {
		r.log.Warn().Err(err).Msg("near duplicate scan failed")
		return
	}
	for _, d := range dups {
		r.log.Warn().Str("name", name).Uint("similar_item_id", d.ID).Str("similar_name", d.Name).Str("similar_variant", d.Variant).Msg("possible duplicate item")
	}
}

// NewCode returns a random short item code such as CAT-9F3A1C.
func NewCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return codePrefix + strings.ToUpper(id[:6])
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
