package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucentlabs/beacon/backend/internal/attribution"
	"github.com/lucentlabs/beacon/backend/internal/tracking"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const topBreakdownLimit = 5

// DefaultRange is the trailing window reported when no explicit range is given.
const DefaultRange = 7 * 24 * time.Hour

var errMissingDatabase = errors.New("reporting: database handle is required")

// BreakdownRow is one entry of a top-N campaign breakdown.
type BreakdownRow struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Summary aggregates funnel activity over a date range.
type Summary struct {
	FunnelEntries            int64          `json:"funnel_entries"`
	FunnelProgressions       int64          `json:"funnel_progressions"`
	Conversions              int64          `json:"conversions"`
	ProgressionRate          string         `json:"progression_rate"`
	ConversionRate           string         `json:"conversion_rate"`
	TopSources               []BreakdownRow `json:"top_sources"`
	TopCampaigns             []BreakdownRow `json:"top_campaigns"`
	AvgConversionTimeSeconds *float64       `json:"avg_conversion_time_seconds,omitempty"`
}

// ReaderConfig describes the dependencies of a Reader.
type ReaderConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Reader derives funnel metrics from the touch and conversion stores. It is a
// pure consumer: no writes, no caching.
type Reader struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewReader constructs a Reader.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{db: cfg.Database, logger: logger}, nil
}

// Summarize computes funnel counts, derived rates, top source/campaign
// breakdowns, and the average conversion time for touches and conversions
// created inside [from, to].
func (r *Reader) Summarize(ctx context.Context, from, to time.Time) (Summary, error) {
	from = from.UTC()
	to = to.UTC()

	summary := Summary{}

	entries, err := r.countTouches(ctx, tracking.EventNameFunnelEntry, from, to)
	if err != nil {
		return Summary{}, err
	}
	summary.FunnelEntries = entries

	progressions, err := r.countTouches(ctx, tracking.EventNameFunnelProgress, from, to)
	if err != nil {
		return Summary{}, err
	}
	summary.FunnelProgressions = progressions

	var conversions int64
	if err := r.db.WithContext(ctx).
		Model(&attribution.Conversion{}).
		Where("created_at >= ? AND created_at <= ?", from, to).
		Count(&conversions).Error; err != nil {
		return Summary{}, fmt.Errorf("reporting: conversion count failed: %w", err)
	}
	summary.Conversions = conversions

	summary.ProgressionRate = formatRate(progressions, entries)
	summary.ConversionRate = formatRate(conversions, entries)

	summary.TopSources, err = r.topBreakdown(ctx, "utm_source", from, to)
	if err != nil {
		return Summary{}, err
	}
	summary.TopCampaigns, err = r.topBreakdown(ctx, "utm_campaign", from, to)
	if err != nil {
		return Summary{}, err
	}

	var avg *float64
	if err := r.db.WithContext(ctx).
		Model(&attribution.Conversion{}).
		Where("created_at >= ? AND created_at <= ? AND conversion_time_s IS NOT NULL", from, to).
		Select("AVG(conversion_time_s)").
		Scan(&avg).Error; err != nil {
		return Summary{}, fmt.Errorf("reporting: average conversion time failed: %w", err)
	}
	summary.AvgConversionTimeSeconds = avg

	return summary, nil
}

func (r *Reader) countTouches(ctx context.Context, eventName string, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&tracking.TouchEvent{}).
		Where("event_name = ? AND created_at >= ? AND created_at <= ?", eventName, from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("reporting: %s count failed: %w", eventName, err)
	}
	return count, nil
}

func (r *Reader) topBreakdown(ctx context.Context, column string, from, to time.Time) ([]BreakdownRow, error) {
	var rows []BreakdownRow
	err := r.db.WithContext(ctx).
		Model(&tracking.TouchEvent{}).
		Select(column+" AS value, COUNT(*) AS count").
		Where(column+" <> '' AND created_at >= ? AND created_at <= ?", from, to).
		Group(column).
		Order("count DESC").
		Limit(topBreakdownLimit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("reporting: %s breakdown failed: %w", column, err)
	}
	return rows, nil
}

// formatRate renders numerator/denominator to two decimal places, guarding the
// zero denominator.
func formatRate(numerator, denominator int64) string {
	if denominator == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(numerator)/float64(denominator))
}
