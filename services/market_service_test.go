package services

import (
	"math"
	"testing"
	"time"

	"realm-sim-server/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type marketFixture struct {
	db      *gorm.DB
	svc     *MarketService
	kingdom *models.Kingdom
	buyer   *models.City
	seller  *models.City
}

func newMarketFixture(t *testing.T) *marketFixture {
	t.Helper()
	db := setupTestDB(t)
	kingdom := seedKingdom(t, db)
	buyer := seedCity(t, db, kingdom.ID, "owner-b", "north", "Buyerton")
	seller := seedCity(t, db, kingdom.ID, "owner-s", "south", "Sellersby")
	seedResource(t, db, "wheat", models.ResourceTypeRaw)
	seedResource(t, db, models.ResourceCoin, models.ResourceTypeSpecial)
	setStock(t, db, buyer.ID, models.ResourceCoin, 1000, 0)
	setStock(t, db, seller.ID, "wheat", 100, 0)
	return &marketFixture{
		db:      db,
		svc:     NewMarketService(db, testConfig()),
		kingdom: kingdom,
		buyer:   buyer,
		seller:  seller,
	}
}

func TestPlaceOrderEscrowsAndRests(t *testing.T) {
	f := newMarketFixture(t)

	order, trades, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 10, 5, nil)
	require.NoError(t, err)
	require.Empty(t, trades)
	require.Equal(t, models.OrderStatusOpen, order.Status)
	require.NotNil(t, order.ExpiresAt)

	coin := getStock(t, f.db, f.buyer.ID, models.ResourceCoin)
	require.Equal(t, int64(1000), coin.Amount, "escrow protects, it does not spend")
	require.Equal(t, int64(50), coin.Protected)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newMarketFixture(t)

	_, _, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 0, 5, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, _, err = f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 10, -1, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, _, err = f.svc.PlaceOrder(f.buyer.ID, "short", "wheat", 10, 5, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, _, err = f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "unobtanium", 10, 5, nil)
	require.ErrorIs(t, err, ErrNotFound)

	// price*qty past int64 is rejected before any escrow math runs.
	_, _, err = f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", math.MaxInt64/2, 3, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Escrow short: 1000 coin cannot back a 2000 coin bid.
	_, _, err = f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 200, 10, nil)
	require.ErrorIs(t, err, ErrInsufficientResources)
	_, _, err = f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 10, 500, nil)
	require.ErrorIs(t, err, ErrInsufficientResources)
}

func TestMatchAtMakerPriceWithPartialRest(t *testing.T) {
	f := newMarketFixture(t)

	// Book: asks at 10 (qty 3) and 12 (qty 5).
	cheap, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 10, 3, nil)
	require.NoError(t, err)
	_, _, err = f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 12, 5, nil)
	require.NoError(t, err)

	// Incoming bid at 11 for 5 crosses only the cheaper ask.
	bid, trades, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 11, 5, nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, int64(10), trades[0].Price, "fills execute at the resting order's price")
	require.Equal(t, int64(3), trades[0].Qty)
	require.Equal(t, models.OrderStatusOpen, bid.Status)
	require.Equal(t, int64(2), bid.Remaining())

	var filled models.MarketOrder
	require.NoError(t, f.db.Where("id = ?", cheap.ID).First(&filled).Error)
	require.Equal(t, models.OrderStatusFilled, filled.Status)

	// Buyer paid 30 coin and holds escrow only for the resting remainder.
	buyerCoin := getStock(t, f.db, f.buyer.ID, models.ResourceCoin)
	require.Equal(t, int64(970), buyerCoin.Amount)
	require.Equal(t, int64(22), buyerCoin.Protected)
	require.Equal(t, int64(3), getStock(t, f.db, f.buyer.ID, "wheat").Amount)

	// Seller: 3 wheat gone, 5 still escrowed under the 12 ask, 30 coin in.
	sellerWheat := getStock(t, f.db, f.seller.ID, "wheat")
	require.Equal(t, int64(97), sellerWheat.Amount)
	require.Equal(t, int64(5), sellerWheat.Protected)
	require.Equal(t, int64(30), getStock(t, f.db, f.seller.ID, models.ResourceCoin).Amount)
}

func TestMatchPriceTimePriority(t *testing.T) {
	f := newMarketFixture(t)

	first, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 10, 4, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 10, 4, nil)
	require.NoError(t, err)

	_, trades, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 10, 4, nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, first.ID, trades[0].SellOrderID, "equal prices fill oldest first")

	var untouched models.MarketOrder
	require.NoError(t, f.db.Where("id = ?", second.ID).First(&untouched).Error)
	require.Equal(t, models.OrderStatusOpen, untouched.Status)
	require.Zero(t, untouched.QtyFilled)
}

func TestFillOrKillCancelsRemainder(t *testing.T) {
	f := newMarketFixture(t)

	_, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 10, 3, nil)
	require.NoError(t, err)

	fok := int64(0)
	order, trades, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 11, 5, &fok)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, int64(3), trades[0].Qty)
	require.Equal(t, models.OrderStatusCancelled, order.Status, "the unfilled remainder never rests")
	require.Nil(t, order.ExpiresAt)

	// All escrow beyond the fill returned.
	buyerCoin := getStock(t, f.db, f.buyer.ID, models.ResourceCoin)
	require.Equal(t, int64(970), buyerCoin.Amount)
	require.Zero(t, buyerCoin.Protected)
}

func TestCancelOrderReleasesEscrow(t *testing.T) {
	f := newMarketFixture(t)

	order, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 10, 40, nil)
	require.NoError(t, err)
	require.Equal(t, int64(40), getStock(t, f.db, f.seller.ID, "wheat").Protected)

	cancelled, err := f.svc.CancelOrder(f.seller.ID, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	wheat := getStock(t, f.db, f.seller.ID, "wheat")
	require.Equal(t, int64(100), wheat.Amount)
	require.Zero(t, wheat.Protected)
}

func TestCancelOrderRejections(t *testing.T) {
	f := newMarketFixture(t)

	ask, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 10, 3, nil)
	require.NoError(t, err)
	bid, trades, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 10, 3, nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, models.OrderStatusFilled, bid.Status)

	// Terminal orders reject and leave ledgers untouched.
	before := getStock(t, f.db, f.seller.ID, models.ResourceCoin).Amount
	_, err = f.svc.CancelOrder(f.seller.ID, ask.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, before, getStock(t, f.db, f.seller.ID, models.ResourceCoin).Amount)

	// Someone else's order reads as not found, not forbidden.
	other, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 20, 5, nil)
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(f.buyer.ID, other.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.CancelOrder(f.buyer.ID, uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExpireOrders(t *testing.T) {
	f := newMarketFixture(t)

	ttl := int64(60)
	order, _, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 10, 5, &ttl)
	require.NoError(t, err)

	// Not yet due.
	n, err := f.svc.ExpireOrders(f.kingdom.ID, time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = f.svc.ExpireOrders(f.kingdom.ID, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var expired models.MarketOrder
	require.NoError(t, f.db.Where("id = ?", order.ID).First(&expired).Error)
	require.Equal(t, models.OrderStatusExpired, expired.Status)
	require.Zero(t, getStock(t, f.db, f.buyer.ID, models.ResourceCoin).Protected)
}

func TestTaxAndFeeCharged(t *testing.T) {
	f := newMarketFixture(t)

	// Big notional so the 2% fee and 1% tax survive integer truncation:
	// 50 * 40 = 2000 coin, fee 40, tax 20.
	setStock(t, f.db, f.buyer.ID, "stone", 0, 0)
	require.NoError(t, f.db.Create(&models.Resource{Code: "stone", Name: "stone", Type: models.ResourceTypeRaw, BaseValue: 1}).Error)
	setStock(t, f.db, f.seller.ID, "stone", 100, 0)
	require.NoError(t, f.db.Model(&models.CityResource{}).
		Where("city_id = ? AND resource_code = ?", f.buyer.ID, models.ResourceCoin).
		Update("amount", 5000).Error)

	_, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "stone", 50, 40, nil)
	require.NoError(t, err)
	_, trades, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "stone", 50, 40, nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, int64(40), trades[0].Fee)
	require.Equal(t, int64(20), trades[0].Tax)

	// Taker (buyer) pays notional + fee + tax; maker (seller) nets
	// notional - tax.
	require.Equal(t, int64(5000-2000-40-20), getStock(t, f.db, f.buyer.ID, models.ResourceCoin).Amount)
	require.Equal(t, int64(2000-20), getStock(t, f.db, f.seller.ID, models.ResourceCoin).Amount)
}

func TestKingdomTaxOverride(t *testing.T) {
	f := newMarketFixture(t)
	require.NoError(t, f.db.Model(&models.Kingdom{}).Where("id = ?", f.kingdom.ID).
		Update("tax_rate", 0.05).Error)

	_, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", 50, 20, nil)
	require.NoError(t, err)
	_, trades, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", 50, 20, nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, int64(50), trades[0].Tax, "5% of the 1000 coin notional")
}

func TestGetOrderBookSorted(t *testing.T) {
	f := newMarketFixture(t)

	for _, price := range []int64{12, 10, 14} {
		_, _, err := f.svc.PlaceOrder(f.seller.ID, models.SideSell, "wheat", price, 2, nil)
		require.NoError(t, err)
	}
	for _, price := range []int64{5, 7, 6} {
		_, _, err := f.svc.PlaceOrder(f.buyer.ID, models.SideBuy, "wheat", price, 2, nil)
		require.NoError(t, err)
	}

	book, err := f.svc.GetOrderBook(f.kingdom.ID, "wheat")
	require.NoError(t, err)
	require.Len(t, book.Asks, 3)
	require.Len(t, book.Bids, 3)
	require.Equal(t, int64(10), book.Asks[0].Price, "asks ascend")
	require.Equal(t, int64(14), book.Asks[2].Price)
	require.Equal(t, int64(7), book.Bids[0].Price, "bids descend")
	require.Equal(t, int64(5), book.Bids[2].Price)
}
