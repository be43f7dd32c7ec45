// Package postgres implements the engine stores on PostgreSQL via GORM.
// Nested carrier structures are stored as jsonb; the engine only queries by
// id and status, so no relational decomposition is needed.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hfujita/wastematch/core/errs"
	"github.com/hfujita/wastematch/core/model"
)

// Config holds the connection parameters.
type Config struct {
	DSN string `json:"dsn"`
}

// Open connects and migrates the schema.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := db.AutoMigrate(&caseRow{}, &carrierRow{}, &bidRow{}, &matchRow{}); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return db, nil
}

type caseRow struct {
	ID                string `gorm:"primaryKey"`
	CaseNumber        string `gorm:"uniqueIndex"`
	Lat               float64
	Lng               float64
	WasteType         string
	WasteCategory     string
	EstimatedWeightKg *float64
	EstimatedVolumeM3 *float64
	ScheduledDate     time.Time
	Priority          string
	Status            string `gorm:"index"`
	AutoAssign        bool
	AuctionEnabled    bool
	AuctionStartAt    *time.Time
	AuctionEndAt      *time.Time
	AssignedCarrierID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (caseRow) TableName() string { return "cases" }

func toCaseRow(c *model.Case) caseRow {
	return caseRow{
		ID:                c.ID,
		CaseNumber:        c.CaseNumber,
		Lat:               c.Site.Lat,
		Lng:               c.Site.Lng,
		WasteType:         c.WasteType,
		WasteCategory:     c.WasteCategory,
		EstimatedWeightKg: c.EstimatedWeightKg,
		EstimatedVolumeM3: c.EstimatedVolumeM3,
		ScheduledDate:     c.ScheduledDate,
		Priority:          string(c.Priority),
		Status:            string(c.Status),
		AutoAssign:        c.AutoAssign,
		AuctionEnabled:    c.AuctionEnabled,
		AuctionStartAt:    c.AuctionStartAt,
		AuctionEndAt:      c.AuctionEndAt,
		AssignedCarrierID: c.AssignedCarrierID,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func (r caseRow) toModel() model.Case {
	return model.Case{
		ID:                r.ID,
		CaseNumber:        r.CaseNumber,
		Site:              model.Point{Lat: r.Lat, Lng: r.Lng},
		WasteType:         r.WasteType,
		WasteCategory:     r.WasteCategory,
		EstimatedWeightKg: r.EstimatedWeightKg,
		EstimatedVolumeM3: r.EstimatedVolumeM3,
		ScheduledDate:     r.ScheduledDate,
		Priority:          model.CasePriority(r.Priority),
		Status:            model.CaseStatus(r.Status),
		AutoAssign:        r.AutoAssign,
		AuctionEnabled:    r.AuctionEnabled,
		AuctionStartAt:    r.AuctionStartAt,
		AuctionEndAt:      r.AuctionEndAt,
		AssignedCarrierID: r.AssignedCarrierID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// CaseStore is the PostgreSQL store.CaseStore.
type CaseStore struct {
	db *gorm.DB
}

// NewCaseStore creates a CaseStore.
func NewCaseStore(db *gorm.DB) *CaseStore { return &CaseStore{db: db} }

func (s *CaseStore) Get(ctx context.Context, id string) (*model.Case, error) {
	var row caseRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("case %s", id)
	}
	if err != nil {
		return nil, err
	}
	c := row.toModel()
	return &c, nil
}

func (s *CaseStore) Save(ctx context.Context, c *model.Case) (*model.Case, error) {
	row := toCaseRow(c)
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return nil, err
	}
	out := row.toModel()
	return &out, nil
}

func (s *CaseStore) ListOpenAuctions(ctx context.Context) ([]model.Case, error) {
	var rows []caseRow
	err := s.db.WithContext(ctx).
		Where("auction_enabled = ? AND status = ?", true, string(model.CaseMatching)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Case, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

type carrierRow struct {
	ID               string              `gorm:"primaryKey"`
	Name             string
	Permits          []model.Permit      `gorm:"type:jsonb;serializer:json"`
	ServiceAreas     []model.ServiceArea `gorm:"type:jsonb;serializer:json"`
	PriceMatrix      []model.PriceEntry  `gorm:"type:jsonb;serializer:json"`
	ReliabilityScore float64
	Active           bool `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (carrierRow) TableName() string { return "carriers" }

func (r carrierRow) toModel() model.Carrier {
	return model.Carrier{
		ID:               r.ID,
		Name:             r.Name,
		Permits:          r.Permits,
		ServiceAreas:     r.ServiceAreas,
		PriceMatrix:      r.PriceMatrix,
		ReliabilityScore: r.ReliabilityScore,
		Active:           r.Active,
	}
}

// CarrierStore is the PostgreSQL store.CarrierStore.
type CarrierStore struct {
	db *gorm.DB
}

// NewCarrierStore creates a CarrierStore.
func NewCarrierStore(db *gorm.DB) *CarrierStore { return &CarrierStore{db: db} }

func (s *CarrierStore) Get(ctx context.Context, id string) (*model.Carrier, error) {
	var row carrierRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("carrier %s", id)
	}
	if err != nil {
		return nil, err
	}
	c := row.toModel()
	return &c, nil
}

func (s *CarrierStore) ListActive(ctx context.Context) ([]model.Carrier, error) {
	var rows []carrierRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Carrier, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// Put inserts or replaces a carrier. Used by seeding and sync jobs.
func (s *CarrierStore) Put(ctx context.Context, c model.Carrier) error {
	row := carrierRow{
		ID:               c.ID,
		Name:             c.Name,
		Permits:          c.Permits,
		ServiceAreas:     c.ServiceAreas,
		PriceMatrix:      c.PriceMatrix,
		ReliabilityScore: c.ReliabilityScore,
		Active:           c.Active,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

type bidRow struct {
	ID        string `gorm:"primaryKey"`
	CaseID    string `gorm:"index"`
	CarrierID string `gorm:"index"`
	Amount    float64
	Message   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (bidRow) TableName() string { return "bids" }

func (r bidRow) toModel() model.Bid {
	return model.Bid{
		ID:        r.ID,
		CaseID:    r.CaseID,
		CarrierID: r.CarrierID,
		Amount:    r.Amount,
		Message:   r.Message,
		Status:    model.BidStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// BidStore is the PostgreSQL store.BidStore.
type BidStore struct {
	db *gorm.DB
}

// NewBidStore creates a BidStore.
func NewBidStore(db *gorm.DB) *BidStore { return &BidStore{db: db} }

func (s *BidStore) Get(ctx context.Context, id string) (*model.Bid, error) {
	var row bidRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("bid %s", id)
	}
	if err != nil {
		return nil, err
	}
	b := row.toModel()
	return &b, nil
}

func (s *BidStore) FindByCase(ctx context.Context, caseID string) ([]model.Bid, error) {
	var rows []bidRow
	err := s.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("amount, created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Bid, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *BidStore) FindByCarrierAndCase(ctx context.Context, carrierID, caseID string) (*model.Bid, error) {
	var row bidRow
	err := s.db.WithContext(ctx).
		Where("case_id = ? AND carrier_id = ? AND status <> ?", caseID, carrierID, string(model.BidCancelled)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b := row.toModel()
	return &b, nil
}

func (s *BidStore) Save(ctx context.Context, b *model.Bid) (*model.Bid, error) {
	row := bidRow{
		ID:        b.ID,
		CaseID:    b.CaseID,
		CarrierID: b.CarrierID,
		Amount:    b.Amount,
		Message:   b.Message,
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return nil, err
	}
	out := row.toModel()
	return &out, nil
}

type matchRow struct {
	CaseID     string            `gorm:"primaryKey"`
	Candidates []model.Candidate `gorm:"type:jsonb;serializer:json"`
	UpdatedAt  time.Time
}

func (matchRow) TableName() string { return "match_results" }

// MatchStore is the PostgreSQL store.MatchStore.
type MatchStore struct {
	db *gorm.DB
}

// NewMatchStore creates a MatchStore.
func NewMatchStore(db *gorm.DB) *MatchStore { return &MatchStore{db: db} }

func (s *MatchStore) Put(ctx context.Context, caseID string, candidates []model.Candidate) error {
	row := matchRow{CaseID: caseID, Candidates: candidates, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *MatchStore) Get(ctx context.Context, caseID string) ([]model.Candidate, error) {
	var row matchRow
	err := s.db.WithContext(ctx).First(&row, "case_id = ?", caseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []model.Candidate{}, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Candidates, nil
}
