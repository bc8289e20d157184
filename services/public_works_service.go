package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"realm-sim-server/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PublicWorksService tallies contributions toward communal projects and
// applies the one-shot completion bonus. The status transition itself is
// the idempotence guard: a completed project rejects further
// contributions, and the bonus is applied exactly where active flips to
// completed — never on a re-tick. The guard only holds if transitions on
// one work are serialized, so every contribution runs under the work's
// own lock in addition to the contributing city's.
type PublicWorksService struct {
	DB    *gorm.DB
	Cfg   SimConfig
	Locks *EntityLocks
}

func NewPublicWorksService(db *gorm.DB, cfg SimConfig, locks *EntityLocks) *PublicWorksService {
	return &PublicWorksService{DB: db, Cfg: cfg, Locks: locks}
}

// CreateWork opens a new communal project for a council's region.
func (s *PublicWorksService) CreateWork(councilID, region, name string, required, regionBonus models.ResourceMap, happinessBonus int) (*models.PublicWork, error) {
	if err := required.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if len(required) == 0 {
		return nil, fmt.Errorf("%w: a public work needs required resources", ErrInvalidTransition)
	}
	work := models.PublicWork{
		ID:             uuid.NewString(),
		CouncilID:      councilID,
		Region:         region,
		Name:           name,
		Required:       required.Clone(),
		Contributed:    models.ResourceMap{},
		RegionBonus:    regionBonus.Clone(),
		HappinessBonus: happinessBonus,
		Status:         models.PublicWorkActive,
	}
	if err := s.DB.Create(&work).Error; err != nil {
		return nil, err
	}
	return &work, nil
}

// Contribute debits the contributing city and adds to the project's
// tally. Completion percentage is recomputed from scratch each time, so
// it is monotone while active. Crossing 100% completes the project and
// pays the region bonus once.
func (s *PublicWorksService) Contribute(cityID, workID string, deltas models.ResourceMap) (*models.PublicWork, error) {
	if len(deltas) == 0 {
		return nil, fmt.Errorf("%w: nothing to contribute", ErrInvalidTransition)
	}
	if err := deltas.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	var work models.PublicWork
	err := s.Locks.With(workID, func() error {
		return s.contributeLocked(cityID, workID, deltas, &work)
	})
	if err != nil {
		return nil, err
	}
	return &work, nil
}

func (s *PublicWorksService) contributeLocked(cityID, workID string, deltas models.ResourceMap, work *models.PublicWork) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", workID).First(work).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: public work %s", ErrNotFound, workID)
			}
			return err
		}
		if work.Status != models.PublicWorkActive {
			return fmt.Errorf("%w: public work %s is %s", ErrInvalidTransition, workID, work.Status)
		}
		var city models.City
		if err := tx.Where("id = ?", cityID).First(&city).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: city %s", ErrNotFound, cityID)
			}
			return err
		}

		for code, qty := range deltas {
			if qty == 0 {
				continue
			}
			if err := debitAvailable(tx, cityID, code, qty); err != nil {
				return err
			}
			if work.Contributed == nil {
				work.Contributed = models.ResourceMap{}
			}
			work.Contributed[code] += qty
		}

		work.RecomputeCompletion()
		if work.CompletionPct >= 100 {
			if err := s.complete(tx, work); err != nil {
				return err
			}
		}
		return tx.Save(work).Error
	})
}

// complete flips the project to completed and pays the region bonus to
// every city in the owning council's region.
func (s *PublicWorksService) complete(tx *gorm.DB, work *models.PublicWork) error {
	now := time.Now().UTC()
	work.Status = models.PublicWorkCompleted
	work.CompletedAt = &now
	work.CompletionPct = 100

	var cities []models.City
	if err := tx.Where("region = ?", work.Region).Find(&cities).Error; err != nil {
		return err
	}
	for i := range cities {
		city := &cities[i]
		cap := s.Cfg.WarehouseCap(city.Level)
		for code, qty := range work.RegionBonus {
			if _, err := creditResource(tx, city.ID, code, qty, cap); err != nil {
				return err
			}
		}
		if work.HappinessBonus != 0 {
			city.Happiness += work.HappinessBonus
			city.ClampHappiness()
			if err := tx.Save(city).Error; err != nil {
				return err
			}
		}
	}
	log.Printf("🏛️  Public work %q completed, bonus paid to %d city(ies) in %s", work.Name, len(cities), work.Region)
	return nil
}

// GetWork returns one project's current tally.
func (s *PublicWorksService) GetWork(workID string) (*models.PublicWork, error) {
	var work models.PublicWork
	if err := s.DB.Where("id = ?", workID).First(&work).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: public work %s", ErrNotFound, workID)
		}
		return nil, err
	}
	return &work, nil
}
