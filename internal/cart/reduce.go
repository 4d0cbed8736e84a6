package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/stock"
)

// Inventory is the read-only view of the stock tracker the reducer needs.
type Inventory interface {
	Product(id string) (stock.Product, bool)
	Available(productID, unitID string) int64
}

// Action is a cart mutation. The concrete types below are the only actions.
type Action interface {
	actionName() string
}

// CreateCart appends an empty cart and activates it if nothing is active.
type CreateCart struct {
	ID   string
	Name string
}

// SetActive switches the active cart. Unknown IDs are ignored.
type SetActive struct {
	ID string
}

// AddItem adds a new line to the active cart.
type AddItem struct {
	ProductID string
	UnitID    string
	Qty       int64
}

// QtyOp selects how UpdateQuantity.Value is applied.
type QtyOp string

const (
	QtyInc QtyOp = "inc"
	QtyDec QtyOp = "dec"
	QtySet QtyOp = "set"
)

// UpdateQuantity changes a line's quantity.
type UpdateQuantity struct {
	ProductID string
	UnitID    string
	Value     int64
	Op        QtyOp
}

// ChangeUnit moves a line to another selling unit of the same product.
type ChangeUnit struct {
	ProductID string
	From      string
	To        string
}

// RemoveItem deletes a line and returns its reserved stock.
type RemoveItem struct {
	ProductID string
	UnitID    string
}

// ClearCart empties the active cart and returns its reserved stock.
type ClearCart struct{}

// RemoveCart deletes a cart and returns its reserved stock.
type RemoveCart struct {
	ID string
}

// SetDiscount replaces the store-global discount.
type SetDiscount struct {
	Type  DiscountType
	Value decimal.Decimal
}

// Settle retires a sold cart after a committed or queued sale. Stock is not
// restored since the goods left the counter. CartID names the sold cart; an
// empty CartID means the active one. When the retired cart was active, a
// fresh cart with NewCartID becomes active and the discount is reset. A
// CartID that no longer exists is a no-op.
type Settle struct {
	CartID      string
	NewCartID   string
	NewCartName string
}

// Hydrate replaces the whole state. Only used at session start.
type Hydrate struct {
	State State
}

func (CreateCart) actionName() string     { return "create_cart" }
func (SetActive) actionName() string      { return "set_active" }
func (AddItem) actionName() string        { return "add_item" }
func (UpdateQuantity) actionName() string { return "update_quantity" }
func (ChangeUnit) actionName() string     { return "change_unit" }
func (RemoveItem) actionName() string     { return "remove_item" }
func (ClearCart) actionName() string      { return "clear_cart" }
func (RemoveCart) actionName() string     { return "remove_cart" }
func (SetDiscount) actionName() string    { return "set_discount" }
func (Settle) actionName() string         { return "settle" }
func (Hydrate) actionName() string        { return "hydrate" }

// Name returns a stable name for logging.
func Name(a Action) string {
	return a.actionName()
}

// Reduce applies a to s and returns the new state plus the stock deltas the
// caller must mirror into the tracker. It does no I/O and never mutates s;
// on error the original state is returned unchanged with no deltas.
func Reduce(s State, inv Inventory, a Action) (State, []stock.Delta, error) {
	next := s.clone()

	var deltas []stock.Delta
	var err error

	switch act := a.(type) {
	case CreateCart:
		err = reduceCreate(&next, act)
	case SetActive:
		if next.index(act.ID) >= 0 {
			next.ActiveID = act.ID
		}
	case AddItem:
		deltas, err = reduceAdd(&next, inv, act)
	case UpdateQuantity:
		deltas, err = reduceQuantity(&next, inv, act)
	case ChangeUnit:
		deltas, err = reduceChangeUnit(&next, inv, act)
	case RemoveItem:
		deltas, err = reduceRemove(&next, act)
	case ClearCart:
		deltas, err = reduceClear(&next)
	case RemoveCart:
		deltas = reduceRemoveCart(&next, act)
	case SetDiscount:
		err = reduceDiscount(&next, act)
	case Settle:
		err = reduceSettle(&next, act)
	case Hydrate:
		next = act.State.clone()
	default:
		err = fmt.Errorf("unknown cart action %T", a)
	}

	if err != nil {
		return s, nil, err
	}
	return next, deltas, nil
}

func activeCart(s *State) (*Cart, error) {
	i := s.activeIndex()
	if i < 0 {
		return nil, failure.Validation(failure.CodeNoActiveCart, "no active cart")
	}
	return &s.Carts[i], nil
}

func reduceCreate(s *State, act CreateCart) error {
	if act.ID == "" {
		return fmt.Errorf("create cart: id is required")
	}
	if s.index(act.ID) >= 0 {
		return fmt.Errorf("create cart: id %q already exists", act.ID)
	}
	name := act.Name
	if name == "" {
		name = fmt.Sprintf("Cart %d", len(s.Carts)+1)
	}
	s.Carts = append(s.Carts, Cart{ID: act.ID, Name: name, Items: []Item{}})
	if s.activeIndex() < 0 {
		s.ActiveID = act.ID
	}
	return nil
}

func reduceAdd(s *State, inv Inventory, act AddItem) ([]stock.Delta, error) {
	c, err := activeCart(s)
	if err != nil {
		return nil, err
	}
	if c.find(act.ProductID, act.UnitID) >= 0 {
		return nil, failure.Validation(failure.CodeDuplicateLine,
			"product %s is already in the cart with unit %s", act.ProductID, act.UnitID)
	}

	product, ok := inv.Product(act.ProductID)
	if !ok {
		return nil, failure.Validation(failure.CodeUnknownProduct, "unknown product %s", act.ProductID)
	}
	unit, ok := product.Unit(act.UnitID)
	if !ok {
		return nil, failure.Validation(failure.CodeUnknownUnit, "product %s has no unit %s", act.ProductID, act.UnitID)
	}

	available := inv.Available(act.ProductID, act.UnitID)
	if available < 1 {
		return nil, failure.Validation(failure.CodeOutOfStock, "product %s unit %s is out of stock", act.ProductID, act.UnitID)
	}
	qty := clamp(act.Qty, 1, available)

	units := make([]stock.SellingUnit, len(product.Units))
	copy(units, product.Units)
	c.Items = append(c.Items, Item{
		ProductID:     product.ID,
		ProductName:   product.Name,
		UnitID:        unit.ID,
		Qty:           qty,
		UnitPrice:     unit.Price,
		SellingUnits:  units,
		OriginalStock: available,
	})
	return []stock.Delta{stock.Consume(act.ProductID, act.UnitID, qty)}, nil
}

func reduceQuantity(s *State, inv Inventory, act UpdateQuantity) ([]stock.Delta, error) {
	c, err := activeCart(s)
	if err != nil {
		return nil, err
	}
	i := c.find(act.ProductID, act.UnitID)
	if i < 0 {
		return nil, failure.Validation(failure.CodeItemNotInCart, "product %s unit %s is not in the cart", act.ProductID, act.UnitID)
	}
	if act.Value < 0 {
		return nil, failure.Validation(failure.CodeInvalidQuantity, "quantity change must not be negative, got %d", act.Value)
	}

	item := &c.Items[i]
	var want int64
	switch act.Op {
	case QtyInc:
		want = item.Qty + act.Value
	case QtyDec:
		want = item.Qty - act.Value
	case QtySet:
		want = act.Value
	default:
		return nil, failure.Validation(failure.CodeInvalidQuantity, "unknown quantity operation %q", act.Op)
	}

	// Stock already reserved by this line counts toward its ceiling.
	ceiling := item.Qty + inv.Available(act.ProductID, act.UnitID)
	want = clamp(want, 1, ceiling)

	diff := want - item.Qty
	item.Qty = want
	switch {
	case diff > 0:
		return []stock.Delta{stock.Consume(act.ProductID, act.UnitID, diff)}, nil
	case diff < 0:
		return []stock.Delta{stock.Restore(act.ProductID, act.UnitID, -diff)}, nil
	}
	return nil, nil
}

func reduceChangeUnit(s *State, inv Inventory, act ChangeUnit) ([]stock.Delta, error) {
	c, err := activeCart(s)
	if err != nil {
		return nil, err
	}
	i := c.find(act.ProductID, act.From)
	if i < 0 {
		return nil, failure.Validation(failure.CodeItemNotInCart, "product %s unit %s is not in the cart", act.ProductID, act.From)
	}
	if act.From == act.To {
		return nil, nil
	}
	if c.find(act.ProductID, act.To) >= 0 {
		return nil, failure.Validation(failure.CodeDuplicateLine,
			"product %s already has a line for unit %s", act.ProductID, act.To)
	}

	item := &c.Items[i]
	unit, ok := lookupUnit(inv, *item, act.To)
	if !ok {
		return nil, failure.Validation(failure.CodeUnknownUnit, "product %s has no unit %s", act.ProductID, act.To)
	}
	available := inv.Available(act.ProductID, act.To)
	if available < 1 {
		return nil, failure.Validation(failure.CodeOutOfStock, "product %s unit %s is out of stock", act.ProductID, act.To)
	}

	deltas := []stock.Delta{
		stock.Restore(act.ProductID, act.From, item.Qty),
		stock.Consume(act.ProductID, act.To, 1),
	}
	// The new line always starts at one, whatever the old quantity was.
	item.UnitID = unit.ID
	item.UnitPrice = unit.Price
	item.Qty = 1
	item.OriginalStock = available
	return deltas, nil
}

func lookupUnit(inv Inventory, item Item, unitID string) (stock.SellingUnit, bool) {
	if p, ok := inv.Product(item.ProductID); ok {
		return p.Unit(unitID)
	}
	for _, u := range item.SellingUnits {
		if u.ID == unitID {
			return u, true
		}
	}
	return stock.SellingUnit{}, false
}

func reduceRemove(s *State, act RemoveItem) ([]stock.Delta, error) {
	c, err := activeCart(s)
	if err != nil {
		return nil, err
	}
	i := c.find(act.ProductID, act.UnitID)
	if i < 0 {
		return nil, failure.Validation(failure.CodeItemNotInCart, "product %s unit %s is not in the cart", act.ProductID, act.UnitID)
	}
	item := c.Items[i]
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return []stock.Delta{stock.Restore(item.ProductID, item.UnitID, item.Qty)}, nil
}

func reduceClear(s *State) ([]stock.Delta, error) {
	c, err := activeCart(s)
	if err != nil {
		return nil, err
	}
	deltas := restoreAll(c.Items)
	c.Items = []Item{}
	return deltas, nil
}

func reduceRemoveCart(s *State, act RemoveCart) []stock.Delta {
	i := s.index(act.ID)
	if i < 0 {
		return nil
	}
	deltas := restoreAll(s.Carts[i].Items)
	s.Carts = append(s.Carts[:i], s.Carts[i+1:]...)
	if s.ActiveID == act.ID {
		s.ActiveID = ""
		if len(s.Carts) > 0 {
			s.ActiveID = s.Carts[0].ID
		}
	}
	return deltas
}

func restoreAll(items []Item) []stock.Delta {
	if len(items) == 0 {
		return nil
	}
	deltas := make([]stock.Delta, 0, len(items))
	for _, it := range items {
		deltas = append(deltas, stock.Restore(it.ProductID, it.UnitID, it.Qty))
	}
	return deltas
}

func reduceDiscount(s *State, act SetDiscount) error {
	switch act.Type {
	case DiscountFixed:
		s.Discount = Discount{Type: DiscountFixed, Value: decimal.Max(act.Value, decimal.Zero)}
	case DiscountPercentage:
		s.Discount = Discount{Type: DiscountPercentage, Value: clampDecimal(act.Value, decimal.Zero, hundred)}
	default:
		return failure.Validation(failure.CodeInvalidDiscount, "unknown discount type %q", act.Type)
	}
	return nil
}

func reduceSettle(s *State, act Settle) error {
	var i int
	if act.CartID == "" {
		if i = s.activeIndex(); i < 0 {
			return failure.Validation(failure.CodeNoActiveCart, "no active cart")
		}
	} else if i = s.index(act.CartID); i < 0 {
		// Removed while the sale was in flight; its stock went back then.
		return nil
	}
	wasActive := s.Carts[i].ID == s.ActiveID
	if wasActive && act.NewCartID == "" {
		return fmt.Errorf("settle: new cart id is required")
	}
	s.Carts = append(s.Carts[:i], s.Carts[i+1:]...)
	if !wasActive {
		return nil
	}
	s.ActiveID = ""
	s.Discount = NoDiscount
	return reduceCreate(s, CreateCart{ID: act.NewCartID, Name: act.NewCartName})
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
