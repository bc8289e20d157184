package services

import (
	"sync"
	"testing"

	"realm-sim-server/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCreateWorkValidation(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPublicWorksService(db, testConfig(), NewEntityLocks())

	_, err := svc.CreateWork("council-1", "north", "Aqueduct", models.ResourceMap{}, nil, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.CreateWork("council-1", "north", "Aqueduct", models.ResourceMap{"stone": -5}, nil, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)

	work, err := svc.CreateWork("council-1", "north", "Aqueduct", models.ResourceMap{"stone": 100}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, models.PublicWorkActive, work.Status)
	require.Zero(t, work.CompletionPct)
}

func TestContributeTally(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPublicWorksService(db, testConfig(), NewEntityLocks())
	kingdom := seedKingdom(t, db)
	city := seedCity(t, db, kingdom.ID, "owner-1", "north", "Stonehaven")
	setStock(t, db, city.ID, "stone", 500, 0)
	setStock(t, db, city.ID, "timber", 500, 0)

	work, err := svc.CreateWork(kingdom.ID, "north", "Aqueduct",
		models.ResourceMap{"stone": 100, "timber": 50}, nil, 0)
	require.NoError(t, err)

	updated, err := svc.Contribute(city.ID, work.ID, models.ResourceMap{"stone": 50})
	require.NoError(t, err)
	require.InDelta(t, 25.0, updated.CompletionPct, 1e-9, "half of one of two requirements")
	require.Equal(t, int64(450), getStock(t, db, city.ID, "stone").Amount)

	// Over-contribution counts only up to the requirement.
	updated, err = svc.Contribute(city.ID, work.ID, models.ResourceMap{"stone": 200})
	require.NoError(t, err)
	require.InDelta(t, 50.0, updated.CompletionPct, 1e-9)
	require.Equal(t, models.PublicWorkActive, updated.Status)
}

func TestContributeInsufficientLeavesTallyUntouched(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPublicWorksService(db, testConfig(), NewEntityLocks())
	kingdom := seedKingdom(t, db)
	city := seedCity(t, db, kingdom.ID, "owner-1", "north", "Brokeville")
	setStock(t, db, city.ID, "stone", 10, 0)

	work, err := svc.CreateWork(kingdom.ID, "north", "Aqueduct", models.ResourceMap{"stone": 100}, nil, 0)
	require.NoError(t, err)

	_, err = svc.Contribute(city.ID, work.ID, models.ResourceMap{"stone": 50})
	require.ErrorIs(t, err, ErrInsufficientResources)

	reloaded, err := svc.GetWork(work.ID)
	require.NoError(t, err)
	require.Zero(t, reloaded.Contributed["stone"])
	require.Equal(t, int64(10), getStock(t, db, city.ID, "stone").Amount)
}

func TestCompletionPaysBonusOnce(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPublicWorksService(db, testConfig(), NewEntityLocks())
	kingdom := seedKingdom(t, db)
	contributor := seedCity(t, db, kingdom.ID, "owner-1", "north", "Givertown")
	neighbor := seedCity(t, db, kingdom.ID, "owner-2", "north", "Neighborly")
	outsider := seedCity(t, db, kingdom.ID, "owner-3", "south", "Faraway")
	setStock(t, db, contributor.ID, "stone", 500, 0)

	work, err := svc.CreateWork(kingdom.ID, "north", "Granary",
		models.ResourceMap{"stone": 100}, models.ResourceMap{"grain": 25}, 10)
	require.NoError(t, err)

	completed, err := svc.Contribute(contributor.ID, work.ID, models.ResourceMap{"stone": 100})
	require.NoError(t, err)
	require.Equal(t, models.PublicWorkCompleted, completed.Status)
	require.InDelta(t, 100.0, completed.CompletionPct, 1e-9)
	require.NotNil(t, completed.CompletedAt)

	// Every city in the region gets the bonus, nobody outside it does.
	require.Equal(t, int64(25), getStock(t, db, contributor.ID, "grain").Amount)
	require.Equal(t, int64(25), getStock(t, db, neighbor.ID, "grain").Amount)
	require.Zero(t, getStock(t, db, outsider.ID, "grain").Amount)

	var happy models.City
	require.NoError(t, db.Where("id = ?", neighbor.ID).First(&happy).Error)
	require.Equal(t, 60, happy.Happiness)

	// A completed project rejects further contributions and never pays twice.
	_, err = svc.Contribute(contributor.ID, work.ID, models.ResourceMap{"stone": 1})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, int64(25), getStock(t, db, neighbor.ID, "grain").Amount)
}

func TestConcurrentContributionsCompleteOnce(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPublicWorksService(db, testConfig(), NewEntityLocks())
	kingdom := seedKingdom(t, db)
	first := seedCity(t, db, kingdom.ID, "owner-1", "north", "Eagerton")
	second := seedCity(t, db, kingdom.ID, "owner-2", "north", "Keenburg")
	setStock(t, db, first.ID, "stone", 100, 0)
	setStock(t, db, second.ID, "stone", 100, 0)

	work, err := svc.CreateWork(kingdom.ID, "north", "Aqueduct",
		models.ResourceMap{"stone": 100}, models.ResourceMap{"grain": 25}, 0)
	require.NoError(t, err)

	// Both cities race to supply the full requirement at once. The
	// project must flip to completed exactly once, reject the loser
	// before debiting it, and pay the region bonus a single time.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, cityID := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, cityID string) {
			defer wg.Done()
			_, errs[i] = svc.Contribute(cityID, work.ID, models.ResourceMap{"stone": 100})
		}(i, cityID)
	}
	wg.Wait()

	var rejected int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrInvalidTransition)
			rejected++
		}
	}
	require.Equal(t, 1, rejected, "exactly one contributor loses the race")

	reloaded, err := svc.GetWork(work.ID)
	require.NoError(t, err)
	require.Equal(t, models.PublicWorkCompleted, reloaded.Status)
	require.Equal(t, int64(100), reloaded.Contributed["stone"])
	require.Equal(t, int64(25), getStock(t, db, first.ID, "grain").Amount)
	require.Equal(t, int64(25), getStock(t, db, second.ID, "grain").Amount)
	require.Equal(t, int64(100),
		getStock(t, db, first.ID, "stone").Amount+getStock(t, db, second.ID, "stone").Amount,
		"the losing city keeps its stone")
}

func TestContributeUnknownTargets(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPublicWorksService(db, testConfig(), NewEntityLocks())
	kingdom := seedKingdom(t, db)
	city := seedCity(t, db, kingdom.ID, "owner-1", "north", "Lostville")

	_, err := svc.Contribute(city.ID, uuid.NewString(), models.ResourceMap{"stone": 5})
	require.ErrorIs(t, err, ErrNotFound)

	work, err := svc.CreateWork(kingdom.ID, "north", "Aqueduct", models.ResourceMap{"stone": 100}, nil, 0)
	require.NoError(t, err)
	_, err = svc.Contribute(uuid.NewString(), work.ID, models.ResourceMap{"stone": 5})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Contribute(city.ID, work.ID, models.ResourceMap{})
	require.ErrorIs(t, err, ErrInvalidTransition)
}
