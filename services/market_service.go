package services

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"realm-sim-server/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MarketService maintains one order book per (kingdom, resource) with
// price-time priority and maker pricing. It is the sole mutator of both
// ledgers a trade touches; each trade settles inside one transaction.
// Callers hold the submitting city's and the kingdom's locks.
type MarketService struct {
	DB  *gorm.DB
	Cfg SimConfig
}

func NewMarketService(db *gorm.DB, cfg SimConfig) *MarketService {
	return &MarketService{DB: db, Cfg: cfg}
}

// OrderBook is the query view of one (kingdom, resource) book.
type OrderBook struct {
	Resource string               `json:"resource"`
	Bids     []models.MarketOrder `json:"bids"`
	Asks     []models.MarketOrder `json:"asks"`
}

// PlaceOrder validates, escrows, matches and rests (or cancels, for
// tif=0) a new order. Matching is deterministic: sequencing is driven by
// (price, created_at, id) alone, never wall-clock jitter.
func (s *MarketService) PlaceOrder(cityID string, side models.OrderSide, resource string, price, qty int64, tif *int64) (*models.MarketOrder, []models.Trade, error) {
	if qty <= 0 || price <= 0 {
		return nil, nil, fmt.Errorf("%w: qty and price must be positive", ErrInvalidTransition)
	}
	if price > math.MaxInt64/qty {
		return nil, nil, fmt.Errorf("%w: order notional overflows", ErrInvalidTransition)
	}
	if side != models.SideBuy && side != models.SideSell {
		return nil, nil, fmt.Errorf("%w: unknown side %q", ErrInvalidTransition, side)
	}

	var order models.MarketOrder
	var trades []models.Trade
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var city models.City
		if err := tx.Where("id = ?", cityID).First(&city).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: city %s", ErrNotFound, cityID)
			}
			return err
		}
		var res models.Resource
		if err := tx.Where("code = ?", resource).First(&res).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: resource %s", ErrNotFound, resource)
			}
			return err
		}

		// Escrow up front: a resting order can always settle.
		if side == models.SideBuy {
			if err := reserve(tx, cityID, models.ResourceCoin, price*qty); err != nil {
				return err
			}
		} else {
			if err := reserve(tx, cityID, resource, qty); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		order = models.MarketOrder{
			ID:           uuid.NewString(),
			KingdomID:    city.KingdomID,
			CityID:       cityID,
			ResourceCode: resource,
			Side:         side,
			Price:        price,
			Qty:          qty,
			Status:       models.OrderStatusOpen,
			CreatedAt:    now,
		}
		fillOrKill := tif != nil && *tif == 0
		if !fillOrKill {
			ttl := s.Cfg.OrderTTL
			if tif != nil && *tif > 0 {
				ttl = time.Duration(*tif) * time.Second
			}
			expires := now.Add(ttl)
			order.ExpiresAt = &expires
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		matched, err := s.match(tx, &order)
		if err != nil {
			return err
		}
		trades = matched

		if order.Remaining() == 0 {
			order.Status = models.OrderStatusFilled
		} else if fillOrKill {
			// tif=0: the remainder never rests. Release its escrow.
			if err := s.releaseRemainder(tx, &order); err != nil {
				return err
			}
			order.Status = models.OrderStatusCancelled
		}
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, nil, err
	}
	if len(trades) > 0 {
		log.Printf("💱 [Market] %s %s order %s matched %d trade(s)", side, resource, order.ID[:8], len(trades))
	}
	return &order, trades, nil
}

// match walks the opposing side of the book while prices cross, filling
// at the resting order's price.
func (s *MarketService) match(tx *gorm.DB, incoming *models.MarketOrder) ([]models.Trade, error) {
	var resting []models.MarketOrder
	q := tx.Where("kingdom_id = ? AND resource_code = ? AND status = ?",
		incoming.KingdomID, incoming.ResourceCode, models.OrderStatusOpen)
	if incoming.Side == models.SideBuy {
		q = q.Where("side = ? AND price <= ?", models.SideSell, incoming.Price).
			Order("price ASC, created_at ASC, id ASC")
	} else {
		q = q.Where("side = ? AND price >= ?", models.SideBuy, incoming.Price).
			Order("price DESC, created_at ASC, id ASC")
	}
	if err := q.Find(&resting).Error; err != nil {
		return nil, err
	}

	var trades []models.Trade
	for i := range resting {
		if incoming.Remaining() == 0 {
			break
		}
		maker := &resting[i]
		fill := incoming.Remaining()
		if rem := maker.Remaining(); rem < fill {
			fill = rem
		}

		trade, err := s.settle(tx, incoming, maker, fill)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *trade)

		incoming.QtyFilled += fill
		maker.QtyFilled += fill
		if maker.Remaining() == 0 {
			maker.Status = models.OrderStatusFilled
		}
		if err := tx.Save(maker).Error; err != nil {
			return nil, err
		}
	}
	return trades, nil
}

// settle moves resource and coin for one fill at the maker's price. The
// taker pays the fee; both sides pay the tax. All legs land in the
// caller's transaction, so either the whole trade is visible or none of
// it is.
func (s *MarketService) settle(tx *gorm.DB, taker, maker *models.MarketOrder, qty int64) (*models.Trade, error) {
	price := maker.Price
	notional := qty * price

	buy, sell := taker, maker
	if taker.Side == models.SideSell {
		buy, sell = maker, taker
	}

	var buyer, seller models.City
	if err := tx.Where("id = ?", buy.CityID).First(&buyer).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("id = ?", sell.CityID).First(&seller).Error; err != nil {
		return nil, err
	}

	fee := int64(float64(notional) * s.Cfg.MarketFeeRate)
	tax := int64(float64(notional) * s.taxRate(tx, taker.KingdomID))

	// Buyer: spend the coin escrow at the trade price; when the buyer is
	// the taker and crossed a cheaper ask, the difference goes back.
	if err := spendReserved(tx, buy.CityID, models.ResourceCoin, notional); err != nil {
		return nil, err
	}
	if excess := qty * (buy.Price - price); excess > 0 {
		if err := release(tx, buy.CityID, models.ResourceCoin, excess); err != nil {
			return nil, err
		}
	}

	// Seller: hand over the reserved stock, collect proceeds net of charges.
	if err := spendReserved(tx, sell.CityID, maker.ResourceCode, qty); err != nil {
		return nil, err
	}
	sellerProceeds := notional - tax
	if taker.Side == models.SideSell {
		sellerProceeds -= fee
	}
	if sellerProceeds < 0 {
		sellerProceeds = 0
	}
	if _, err := creditResource(tx, sell.CityID, models.ResourceCoin, sellerProceeds, s.Cfg.WarehouseCap(seller.Level)); err != nil {
		return nil, err
	}

	// Buyer charges beyond the escrowed notional come out of spendable
	// coin, clamped so the ledger cannot go negative.
	buyerCharges := tax
	if taker.Side == models.SideBuy {
		buyerCharges += fee
	}
	if err := chargeUpTo(tx, buy.CityID, models.ResourceCoin, buyerCharges); err != nil {
		return nil, err
	}
	if _, err := creditResource(tx, buy.CityID, maker.ResourceCode, qty, s.Cfg.WarehouseCap(buyer.Level)); err != nil {
		return nil, err
	}

	trade := models.Trade{
		ID:           uuid.NewString(),
		KingdomID:    maker.KingdomID,
		ResourceCode: maker.ResourceCode,
		BuyOrderID:   buy.ID,
		SellOrderID:  sell.ID,
		BuyerCityID:  buy.CityID,
		SellerCityID: sell.CityID,
		Price:        price,
		Qty:          qty,
		Fee:          fee,
		Tax:          tax,
	}
	if err := tx.Create(&trade).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

// taxRate prefers the kingdom's own rate when set.
func (s *MarketService) taxRate(tx *gorm.DB, kingdomID string) float64 {
	var kingdom models.Kingdom
	if err := tx.Where("id = ?", kingdomID).First(&kingdom).Error; err == nil && kingdom.TaxRate > 0 {
		return kingdom.TaxRate
	}
	return s.Cfg.MarketTaxRate
}

// CancelOrder releases the remaining escrow and marks the order
// cancelled. Terminal orders reject with InvalidTransition and leave
// every ledger untouched.
func (s *MarketService) CancelOrder(cityID, orderID string) (*models.MarketOrder, error) {
	var order models.MarketOrder
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", orderID).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
			}
			return err
		}
		if order.CityID != cityID {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: order %s is already %s", ErrInvalidTransition, orderID, order.Status)
		}
		if err := s.releaseRemainder(tx, &order); err != nil {
			return err
		}
		order.Status = models.OrderStatusCancelled
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ExpireOrders cancels every open order in the kingdom whose expiry has
// passed. Runs during the kingdom's tick, under the kingdom lock.
func (s *MarketService) ExpireOrders(kingdomID string, now time.Time) (int, error) {
	expired := 0
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var due []models.MarketOrder
		if err := tx.Where("kingdom_id = ? AND status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			kingdomID, models.OrderStatusOpen, now).Find(&due).Error; err != nil {
			return err
		}
		for i := range due {
			if err := s.releaseRemainder(tx, &due[i]); err != nil {
				return err
			}
			due[i].Status = models.OrderStatusExpired
			if err := tx.Save(&due[i]).Error; err != nil {
				return err
			}
		}
		expired = len(due)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		log.Printf("⏲️  [Market] Expired %d order(s) in kingdom %s", expired, kingdomID)
	}
	return expired, nil
}

// releaseRemainder returns the unfilled part of an order's escrow.
func (s *MarketService) releaseRemainder(tx *gorm.DB, order *models.MarketOrder) error {
	rem := order.Remaining()
	if rem <= 0 {
		return nil
	}
	if order.Side == models.SideBuy {
		return release(tx, order.CityID, models.ResourceCoin, rem*order.Price)
	}
	return release(tx, order.CityID, order.ResourceCode, rem)
}

// GetOrderBook returns the open bids (price descending) and asks (price
// ascending) for one (kingdom, resource) pair.
func (s *MarketService) GetOrderBook(kingdomID, resource string) (*OrderBook, error) {
	book := &OrderBook{Resource: resource}
	if err := s.DB.Where("kingdom_id = ? AND resource_code = ? AND side = ? AND status = ?",
		kingdomID, resource, models.SideBuy, models.OrderStatusOpen).
		Order("price DESC, created_at ASC, id ASC").
		Find(&book.Bids).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Where("kingdom_id = ? AND resource_code = ? AND side = ? AND status = ?",
		kingdomID, resource, models.SideSell, models.OrderStatusOpen).
		Order("price ASC, created_at ASC, id ASC").
		Find(&book.Asks).Error; err != nil {
		return nil, err
	}
	return book, nil
}

// chargeUpTo debits as much of qty as the spendable balance covers.
// Fees and taxes shave proceeds but never push a ledger negative.
func chargeUpTo(tx *gorm.DB, cityID, code string, qty int64) error {
	if qty <= 0 {
		return nil
	}
	var row models.CityResource
	err := tx.Where("city_id = ? AND resource_code = ?", cityID, code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if avail := row.Available(); qty > avail {
		qty = avail
	}
	readAmount, readProtected := row.Amount, row.Protected
	row.Amount -= qty
	return saveLedgerRow(tx, &row, readAmount, readProtected)
}
