package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"realm-sim-server/models"
	"realm-sim-server/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryClient aggregates raw trades into daily PriceHistory rows and
// mirrors each day's aggregates to R2 for the market UI's charts.
type HistoryClient struct {
	DB      *gorm.DB
	Archive bool // push JSON archives to R2 after each aggregation pass
}

func NewHistoryClient(db *gorm.DB, archive bool) *HistoryClient {
	return &HistoryClient{DB: db, Archive: archive}
}

type historyKey struct {
	KingdomID    string
	ResourceCode string
	Day          time.Time
}

// AggregateTrades folds trades in (since, until] into per-day history
// rows, merging with whatever an earlier pass already wrote for the
// same day.
func (c *HistoryClient) AggregateTrades(since, until time.Time) ([]models.PriceHistory, error) {
	var trades []models.Trade
	if err := c.DB.Where("created_at > ? AND created_at <= ?", since, until).
		Order("created_at ASC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	if len(trades) == 0 {
		return nil, nil
	}

	buckets := make(map[historyKey][]models.Trade)
	for _, t := range trades {
		day := t.CreatedAt.UTC().Truncate(24 * time.Hour)
		key := historyKey{KingdomID: t.KingdomID, ResourceCode: t.ResourceCode, Day: day}
		buckets[key] = append(buckets[key], t)
	}

	var updated []models.PriceHistory
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		for key, batch := range buckets {
			var row models.PriceHistory
			err := tx.Where("kingdom_id = ? AND resource_code = ? AND day = ?",
				key.KingdomID, key.ResourceCode, key.Day).First(&row).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				row = models.PriceHistory{
					ID:           uuid.NewString(),
					KingdomID:    key.KingdomID,
					ResourceCode: key.ResourceCode,
					Day:          key.Day,
					MinPrice:     batch[0].Price,
					MaxPrice:     batch[0].Price,
				}
			} else if err != nil {
				return err
			}

			notional := row.AvgPrice * float64(row.Volume)
			for _, t := range batch {
				if row.Volume == 0 || t.Price < row.MinPrice {
					row.MinPrice = t.Price
				}
				if t.Price > row.MaxPrice {
					row.MaxPrice = t.Price
				}
				notional += float64(t.Price * t.Qty)
				row.Volume += t.Qty
				row.TradeCount++
			}
			if row.Volume > 0 {
				row.AvgPrice = notional / float64(row.Volume)
			}

			if err := tx.Save(&row).Error; err != nil {
				return err
			}
			updated = append(updated, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UploadArchive mirrors one day's aggregates to R2 as JSON, keyed by
// date so clients can fetch chart data without hitting the database.
func (c *HistoryClient) UploadArchive(day time.Time) error {
	var rows []models.PriceHistory
	if err := c.DB.Where("day = ?", day.UTC().Truncate(24*time.Hour)).
		Order("kingdom_id, resource_code").Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("market-history/%s.json", day.UTC().Format("2006-01-02"))
	if _, err := utils.UploadBytesToR2(payload, key, "application/json"); err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return nil
}

// PollHistory runs the aggregation loop until the context is cancelled.
func PollHistory(ctx context.Context, client *HistoryClient, pollInterval time.Duration) {
	log.Println("Starting market history aggregation...")
	lastSync := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Market history aggregation stopped.")
			return
		case <-ticker.C:
			until := time.Now().UTC()
			rows, err := client.AggregateTrades(lastSync, until)
			if err != nil {
				log.Printf("❌ [History] aggregation failed: %v", err)
				// Keep lastSync — retry the same window next tick.
				continue
			}
			lastSync = until
			if len(rows) == 0 {
				continue
			}
			log.Printf("📈 [History] Updated %d price-history row(s)", len(rows))

			if client.Archive {
				if err := client.UploadArchive(until); err != nil {
					log.Printf("❌ [History] archive upload failed: %v", err)
				}
			}
		}
	}
}
