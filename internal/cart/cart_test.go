package cart

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/ids"
	"github.com/roach88/cashier/internal/stock"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testProducts() []stock.Product {
	return []stock.Product{
		{
			ID:   "A",
			Name: "Item A",
			Units: []stock.SellingUnit{
				{ID: "unit", Name: "Unit", Price: dec("10.00"), Stock: 10},
				{ID: "packet", Name: "Packet", Price: dec("55.00"), Stock: 4},
			},
		},
		{
			ID:    "B",
			Name:  "Item B",
			Units: []stock.SellingUnit{{ID: "unit", Name: "Unit", Price: dec("2.50"), Stock: 1}},
		},
	}
}

func newTestStore(t *testing.T, cartIDs ...string) *Store {
	t.Helper()
	if len(cartIDs) == 0 {
		cartIDs = []string{"cart-1", "cart-2", "cart-3", "cart-4"}
	}
	return NewStore(stock.NewTracker(testProducts()), ids.NewFixedGenerator(cartIDs...))
}

func activeItems(t *testing.T, s *Store) []Item {
	t.Helper()
	c, _, ok := s.Active()
	require.True(t, ok, "expected an active cart")
	return c.Items
}

func TestCreateCart_FirstBecomesActive(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Dispatch(CreateCart{}))
	require.NoError(t, s.Dispatch(CreateCart{Name: "Counter 2"}))

	st := s.State()
	require.Len(t, st.Carts, 2)
	assert.Equal(t, "cart-1", st.ActiveID)
	assert.Equal(t, "Cart 1", st.Carts[0].Name)
	assert.Equal(t, "Counter 2", st.Carts[1].Name)
}

func TestCreateCart_DuplicateIDRejected(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(CreateCart{ID: "x"}))
	assert.Error(t, s.Dispatch(CreateCart{ID: "x"}))
}

func TestSetActive_UnknownIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(CreateCart{}))
	require.NoError(t, s.Dispatch(CreateCart{}))

	require.NoError(t, s.Dispatch(SetActive{ID: "cart-2"}))
	assert.Equal(t, "cart-2", s.State().ActiveID)

	require.NoError(t, s.Dispatch(SetActive{ID: "nope"}))
	assert.Equal(t, "cart-2", s.State().ActiveID)
}

func TestAddItem_CreatesCartOnFirstUse(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 2}))

	items := activeItems(t, s)
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].Qty)
	assert.True(t, items[0].UnitPrice.Equal(dec("10")))
	assert.Equal(t, int64(10), items[0].OriginalStock)
	assert.Equal(t, int64(8), s.Tracker().Available("A", "unit"))
}

func TestAddItem_ClampsQuantityToStock(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "packet", Qty: 99}))
	assert.Equal(t, int64(4), activeItems(t, s)[0].Qty)
	assert.Equal(t, int64(0), s.Tracker().Available("A", "packet"))

	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 0}))
	assert.Equal(t, int64(1), activeItems(t, s)[1].Qty)
}

func TestAddItem_DuplicateLineRejectedWithoutStockChange(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 3}))
	before := s.Tracker().Total()

	err := s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 1})

	require.Error(t, err)
	assert.True(t, failure.IsValidation(err))
	assert.True(t, failure.HasCode(err, failure.CodeDuplicateLine))
	assert.Equal(t, before, s.Tracker().Total())
	items := activeItems(t, s)
	require.Len(t, items, 1, "duplicates are rejected, never merged")
	assert.Equal(t, int64(3), items[0].Qty)
}

func TestAddItem_Errors(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "B", UnitID: "unit", Qty: 1}))

	tests := []struct {
		name string
		act  AddItem
		code string
	}{
		{"unknown product", AddItem{ProductID: "Z", UnitID: "unit", Qty: 1}, failure.CodeUnknownProduct},
		{"unknown unit", AddItem{ProductID: "A", UnitID: "carton", Qty: 1}, failure.CodeUnknownUnit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Dispatch(tt.act)
			assert.True(t, failure.HasCode(err, tt.code), "got %v", err)
		})
	}

	// B is fully reserved by the first cart, a second cart cannot take it.
	require.NoError(t, s.Dispatch(CreateCart{}))
	require.NoError(t, s.Dispatch(SetActive{ID: "cart-2"}))
	err := s.Dispatch(AddItem{ProductID: "B", UnitID: "unit", Qty: 1})
	assert.True(t, failure.HasCode(err, failure.CodeOutOfStock))
}

func TestUpdateQuantity_ClampsToRange(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 2}))

	require.NoError(t, s.Dispatch(UpdateQuantity{ProductID: "A", UnitID: "unit", Value: 3, Op: QtyInc}))
	assert.Equal(t, int64(5), activeItems(t, s)[0].Qty)
	assert.Equal(t, int64(5), s.Tracker().Available("A", "unit"))

	require.NoError(t, s.Dispatch(UpdateQuantity{ProductID: "A", UnitID: "unit", Value: 100, Op: QtySet}))
	assert.Equal(t, int64(10), activeItems(t, s)[0].Qty)
	assert.Equal(t, int64(0), s.Tracker().Available("A", "unit"))

	require.NoError(t, s.Dispatch(UpdateQuantity{ProductID: "A", UnitID: "unit", Value: 50, Op: QtyDec}))
	assert.Equal(t, int64(1), activeItems(t, s)[0].Qty)
	assert.Equal(t, int64(9), s.Tracker().Available("A", "unit"))

	require.NoError(t, s.Dispatch(UpdateQuantity{ProductID: "A", UnitID: "unit", Value: 0, Op: QtySet}))
	assert.Equal(t, int64(1), activeItems(t, s)[0].Qty)
}

func TestUpdateQuantity_Errors(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 2}))

	err := s.Dispatch(UpdateQuantity{ProductID: "A", UnitID: "packet", Value: 1, Op: QtyInc})
	assert.True(t, failure.HasCode(err, failure.CodeItemNotInCart))

	err = s.Dispatch(UpdateQuantity{ProductID: "A", UnitID: "unit", Value: -1, Op: QtyInc})
	assert.True(t, failure.HasCode(err, failure.CodeInvalidQuantity))

	err = s.Dispatch(UpdateQuantity{ProductID: "A", UnitID: "unit", Value: 1, Op: "double"})
	assert.True(t, failure.HasCode(err, failure.CodeInvalidQuantity))
}

func TestChangeUnit_RestoresThenReservesOne(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 6}))

	require.NoError(t, s.Dispatch(ChangeUnit{ProductID: "A", From: "unit", To: "packet"}))

	items := activeItems(t, s)
	require.Len(t, items, 1)
	assert.Equal(t, "packet", items[0].UnitID)
	assert.Equal(t, int64(1), items[0].Qty, "quantity resets to one after a unit switch")
	assert.True(t, items[0].UnitPrice.Equal(dec("55")))
	assert.Equal(t, int64(10), s.Tracker().Available("A", "unit"))
	assert.Equal(t, int64(3), s.Tracker().Available("A", "packet"))
}

func TestChangeUnit_RejectsExistingTargetLine(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 2}))
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "packet", Qty: 1}))
	unitBefore := s.Tracker().Available("A", "unit")
	packetBefore := s.Tracker().Available("A", "packet")
	stateBefore := s.State()

	err := s.Dispatch(ChangeUnit{ProductID: "A", From: "unit", To: "packet"})

	require.Error(t, err)
	assert.True(t, failure.HasCode(err, failure.CodeDuplicateLine))
	assert.Equal(t, unitBefore, s.Tracker().Available("A", "unit"))
	assert.Equal(t, packetBefore, s.Tracker().Available("A", "packet"))
	assert.Equal(t, stateBefore, s.State())
}

func TestChangeUnit_SameUnitAndUnknownUnit(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 2}))

	require.NoError(t, s.Dispatch(ChangeUnit{ProductID: "A", From: "unit", To: "unit"}))
	assert.Equal(t, int64(2), activeItems(t, s)[0].Qty)

	err := s.Dispatch(ChangeUnit{ProductID: "A", From: "unit", To: "carton"})
	assert.True(t, failure.HasCode(err, failure.CodeUnknownUnit))
	assert.Equal(t, int64(8), s.Tracker().Available("A", "unit"))
}

func TestRemoveItem_RestoresExactReservation(t *testing.T) {
	s := newTestStore(t)
	start := s.Tracker().Total()
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 4}))
	require.NoError(t, s.Dispatch(UpdateQuantity{ProductID: "A", UnitID: "unit", Value: 3, Op: QtyInc}))

	require.NoError(t, s.Dispatch(RemoveItem{ProductID: "A", UnitID: "unit"}))

	assert.Empty(t, activeItems(t, s))
	assert.Equal(t, start, s.Tracker().Total())

	err := s.Dispatch(RemoveItem{ProductID: "A", UnitID: "unit"})
	assert.True(t, failure.HasCode(err, failure.CodeItemNotInCart))
}

func TestClearCart_RestoresAllLines(t *testing.T) {
	s := newTestStore(t)
	start := s.Tracker().Total()
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 4}))
	require.NoError(t, s.Dispatch(AddItem{ProductID: "B", UnitID: "unit", Qty: 1}))

	require.NoError(t, s.Dispatch(ClearCart{}))

	assert.Empty(t, activeItems(t, s))
	assert.Equal(t, start, s.Tracker().Total())
}

func TestRemoveCart_RestoresAndReactivates(t *testing.T) {
	s := newTestStore(t)
	start := s.Tracker().Total()
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 4}))
	require.NoError(t, s.Dispatch(CreateCart{}))

	require.NoError(t, s.Dispatch(RemoveCart{ID: "cart-1"}))

	st := s.State()
	require.Len(t, st.Carts, 1)
	assert.Equal(t, "cart-2", st.ActiveID)
	assert.Equal(t, start, s.Tracker().Total())

	require.NoError(t, s.Dispatch(RemoveCart{ID: "cart-2"}))
	assert.Equal(t, "", s.State().ActiveID)
	require.NoError(t, s.Dispatch(RemoveCart{ID: "ghost"}))
}

func TestSetDiscount_ValidatesAndClamps(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Dispatch(SetDiscount{Type: DiscountPercentage, Value: dec("150")}))
	assert.True(t, s.Discount().Value.Equal(dec("100")))

	require.NoError(t, s.Dispatch(SetDiscount{Type: DiscountFixed, Value: dec("-3")}))
	assert.True(t, s.Discount().Value.IsZero())

	err := s.Dispatch(SetDiscount{Type: "bogus", Value: dec("1")})
	assert.True(t, failure.HasCode(err, failure.CodeInvalidDiscount))
}

func TestSettle_KeepsStockAndStartsFreshCart(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 2}))
	require.NoError(t, s.Dispatch(SetDiscount{Type: DiscountFixed, Value: dec("5")}))

	require.NoError(t, s.Dispatch(Settle{}))

	st := s.State()
	require.Len(t, st.Carts, 1)
	assert.Equal(t, "cart-2", st.ActiveID)
	assert.Empty(t, st.Carts[0].Items)
	assert.Equal(t, NoDiscount, st.Discount)
	assert.Equal(t, int64(8), s.Tracker().Available("A", "unit"), "sold goods stay consumed")
}

func TestSettle_KeepsOtherCarts(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(CreateCart{Name: "first"}))
	require.NoError(t, s.Dispatch(CreateCart{Name: "second"}))

	require.NoError(t, s.Dispatch(Settle{}))

	st := s.State()
	require.Len(t, st.Carts, 2)
	assert.Equal(t, "cart-2", st.Carts[0].ID)
	assert.Equal(t, "cart-3", st.ActiveID)
}

func TestSettle_ByIDLeavesActiveCartAlone(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 1}))
	require.NoError(t, s.Dispatch(CreateCart{Name: "second"}))
	require.NoError(t, s.Dispatch(SetActive{ID: "cart-2"}))
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 3}))
	require.NoError(t, s.Dispatch(SetDiscount{Type: DiscountFixed, Value: dec("2")}))

	require.NoError(t, s.Dispatch(Settle{CartID: "cart-1"}))

	st := s.State()
	require.Len(t, st.Carts, 1)
	assert.Equal(t, "cart-2", st.ActiveID)
	assert.Len(t, st.Carts[0].Items, 1)
	assert.True(t, st.Discount.Value.Equal(dec("2")), "discount belongs to the cart still being rung up")
	assert.Equal(t, int64(6), s.Tracker().Available("A", "unit"))
}

func TestSettle_UnknownCartIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 1}))
	before := s.State()

	require.NoError(t, s.Dispatch(Settle{CartID: "ghost"}))

	assert.Equal(t, before, s.State())
	assert.Equal(t, int64(9), s.Tracker().Available("A", "unit"))
}

func TestHydrate_ReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 1}))

	persisted := State{
		Carts:    []Cart{{ID: "p1", Name: "Persisted", Items: []Item{}}},
		ActiveID: "p1",
		Discount: Discount{Type: DiscountPercentage, Value: dec("10")},
	}
	require.NoError(t, s.Dispatch(Hydrate{State: persisted}))

	assert.Equal(t, persisted, s.State())
}

func TestComputeTotals(t *testing.T) {
	items := []Item{{Qty: 2, UnitPrice: dec("10.00")}}

	tests := []struct {
		name     string
		discount Discount
		before   string
		disc     string
		after    string
	}{
		{"fixed", Discount{Type: DiscountFixed, Value: dec("5")}, "20", "5", "15"},
		{"percentage", Discount{Type: DiscountPercentage, Value: dec("25")}, "20", "5", "15"},
		{"percentage clamped", Discount{Type: DiscountPercentage, Value: dec("120")}, "20", "20", "0"},
		{"fixed floors at zero", Discount{Type: DiscountFixed, Value: dec("30")}, "20", "30", "0"},
		{"none", NoDiscount, "20", "0", "20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(items, tt.discount)
			assert.True(t, got.Before.Equal(dec(tt.before)), "before=%s", got.Before)
			assert.True(t, got.Discount.Equal(dec(tt.disc)), "discount=%s", got.Discount)
			assert.True(t, got.After.Equal(dec(tt.after)), "after=%s", got.After)
		})
	}
}

func TestActive_TotalsScenario(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "A", UnitID: "unit", Qty: 2}))
	require.NoError(t, s.Dispatch(SetDiscount{Type: DiscountFixed, Value: dec("5.00")}))

	_, totals, ok := s.Active()
	require.True(t, ok)
	assert.True(t, totals.Before.Equal(dec("20.00")))
	assert.True(t, totals.Discount.Equal(dec("5.00")))
	assert.True(t, totals.After.Equal(dec("15.00")))
}

func TestQuantityInvariantHoldsAcrossMutations(t *testing.T) {
	s := newTestStore(t)
	steps := []Action{
		AddItem{ProductID: "A", UnitID: "unit", Qty: 7},
		UpdateQuantity{ProductID: "A", UnitID: "unit", Value: 9, Op: QtyInc},
		AddItem{ProductID: "A", UnitID: "packet", Qty: 2},
		UpdateQuantity{ProductID: "A", UnitID: "packet", Value: 5, Op: QtyDec},
		RemoveItem{ProductID: "A", UnitID: "unit"},
		ChangeUnit{ProductID: "A", From: "packet", To: "unit"},
		UpdateQuantity{ProductID: "A", UnitID: "unit", Value: 99, Op: QtySet},
	}
	for _, step := range steps {
		require.NoError(t, s.Dispatch(step), "step %s", Name(step))
		for _, it := range activeItems(t, s) {
			ceiling := it.Qty + s.Tracker().Available(it.ProductID, it.UnitID)
			assert.GreaterOrEqual(t, it.Qty, int64(1))
			assert.LessOrEqual(t, it.Qty, ceiling)
			assert.GreaterOrEqual(t, s.Tracker().Available(it.ProductID, it.UnitID), int64(0))
		}
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	tr := stock.NewTracker(testProducts())
	s0 := State{Carts: []Cart{{ID: "c", Name: "c", Items: []Item{}}}, ActiveID: "c", Discount: NoDiscount}

	s1, deltas, err := Reduce(s0, tr, AddItem{ProductID: "A", UnitID: "unit", Qty: 1})
	require.NoError(t, err)

	assert.Empty(t, s0.Carts[0].Items)
	assert.Len(t, s1.Carts[0].Items, 1)
	assert.Equal(t, []stock.Delta{stock.Consume("A", "unit", 1)}, deltas)
	assert.Equal(t, int64(10), tr.Available("A", "unit"), "Reduce never touches the tracker")
}

func TestState_JSONShape(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(AddItem{ProductID: "B", UnitID: "unit", Qty: 1}))

	data, err := json.Marshal(s.State())
	require.NoError(t, err)

	var back State
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "cart-1", back.ActiveID)
	require.Len(t, back.Carts[0].Items, 1)
	assert.Equal(t, "B", back.Carts[0].Items[0].ProductID)
	assert.Contains(t, string(data), `"selectedUnitId":"unit"`)
}
