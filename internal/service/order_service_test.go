package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"commerce-core/internal/audit"
	"commerce-core/internal/eventbus"
	"commerce-core/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeOrderStore backs OrderService with in-memory products and orders,
// mirroring the transactional store: creation fails atomically on missing
// products or insufficient stock. The mutex stands in for the row lock the
// real store takes on the product during reservation.
type fakeOrderStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]*models.Product
	orders   map[uuid.UUID]*models.Order
	items    map[uuid.UUID][]models.OrderItem
	metas    map[uuid.UUID]*models.OrderChannelMeta
}

func newFakeOrderStore(products ...*models.Product) *fakeOrderStore {
	f := &fakeOrderStore{
		products: make(map[uuid.UUID]*models.Product),
		orders:   make(map[uuid.UUID]*models.Order),
		items:    make(map[uuid.UUID][]models.OrderItem),
		metas:    make(map[uuid.UUID]*models.OrderChannelMeta),
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeOrderStore) GetProduct(_ context.Context, productID, sellerID uuid.UUID) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[productID]
	if !ok || product.SellerID != sellerID {
		return nil, models.ErrProductNotFound
	}
	copied := *product
	return &copied, nil
}

func (f *fakeOrderStore) CreateOrder(_ context.Context, order *models.Order, items []models.OrderItem, meta *models.OrderChannelMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	product, ok := f.products[order.ProductID]
	if !ok || product.SellerID != order.SellerID {
		return models.ErrProductNotFound
	}
	if product.InventoryQuantity < order.Quantity {
		return &models.InsufficientStockError{
			ProductID: order.ProductID,
			Available: product.InventoryQuantity,
			Requested: order.Quantity,
		}
	}

	product.InventoryQuantity -= order.Quantity
	order.Version = 1
	order.Items = items
	f.orders[order.ID] = order
	f.items[order.ID] = items
	if meta != nil {
		f.metas[order.ID] = meta
	}
	return nil
}

func (f *fakeOrderStore) GetOrder(_ context.Context, orderID, sellerID uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok || order.SellerID != sellerID || order.IsDeleted {
		return nil, models.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrderStore) GetOrderItems(_ context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[orderID], nil
}

type fakeInventoryCache struct {
	mu          sync.Mutex
	values      map[uuid.UUID]int
	invalidated []uuid.UUID
}

func newFakeInventoryCache() *fakeInventoryCache {
	return &fakeInventoryCache{values: make(map[uuid.UUID]int)}
}

func (f *fakeInventoryCache) GetCachedInventory(_ context.Context, productID uuid.UUID) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quantity, ok := f.values[productID]
	return quantity, ok, nil
}

func (f *fakeInventoryCache) SetCachedInventory(_ context.Context, productID uuid.UUID, quantity int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[productID] = quantity
	return nil
}

func (f *fakeInventoryCache) InvalidateInventory(_ context.Context, productID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, productID)
	f.invalidated = append(f.invalidated, productID)
	return nil
}

func newOrderService(store *fakeOrderStore) (*OrderService, *eventbus.Bus, *fakeAuditStore, *fakeInventoryCache) {
	bus := eventbus.New(zap.NewNop())
	audits := &fakeAuditStore{}
	cache := newFakeInventoryCache()
	inventory := NewInventoryLedger(store, cache)
	svc := NewOrderService(store, inventory, bus, audit.NewRecorder(audits))
	return svc, bus, audits, cache
}

func testProduct(sellerID uuid.UUID, price int64, quantity int) *models.Product {
	return &models.Product{
		ID:                uuid.New(),
		SellerID:          sellerID,
		Name:              "Handwoven Basket",
		Price:             decimal.NewFromInt(price),
		InventoryQuantity: quantity,
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func validRequest(sellerID, productID uuid.UUID) *CreateOrderRequest {
	return &CreateOrderRequest{
		SellerID:    sellerID,
		ProductID:   productID,
		BuyerName:   "Ada Obi",
		BuyerPhone:  "+2348012345678",
		Quantity:    2,
		TotalAmount: decimalPtr(decimal.NewFromInt(1000)),
		OrderSource: string(models.ChannelWhatsApp),
	}
}

func TestValidateCreateOrder(t *testing.T) {
	sellerID := uuid.New()
	productID := uuid.New()

	cases := []struct {
		name    string
		mutate  func(req *CreateOrderRequest)
		wantErr string
	}{
		{"missing seller", func(r *CreateOrderRequest) { r.SellerID = uuid.Nil }, "seller_id"},
		{"missing product", func(r *CreateOrderRequest) { r.ProductID = uuid.Nil }, "product_id"},
		{"missing buyer name", func(r *CreateOrderRequest) { r.BuyerName = "  " }, "buyer_name"},
		{"missing buyer phone", func(r *CreateOrderRequest) { r.BuyerPhone = "" }, "buyer_phone"},
		{"unknown source", func(r *CreateOrderRequest) { r.OrderSource = "telegram" }, "order source"},
		{"website needs email", func(r *CreateOrderRequest) {
			r.OrderSource = string(models.ChannelWebsite)
			r.BuyerEmail = ""
		}, "buyer_email"},
		{"zero quantity", func(r *CreateOrderRequest) { r.Quantity = 0 }, "quantity"},
		{"missing total", func(r *CreateOrderRequest) { r.TotalAmount = nil }, "total_amount"},
		{"negative total", func(r *CreateOrderRequest) {
			r.TotalAmount = decimalPtr(decimal.NewFromInt(-10))
		}, "total_amount"},
		{"item without product", func(r *CreateOrderRequest) {
			r.Items = []OrderItemRequest{{Quantity: 1}}
		}, "product_id"},
		{"item zero quantity", func(r *CreateOrderRequest) {
			r.Items = []OrderItemRequest{{ProductID: productID, Quantity: 0}}
		}, "quantity"},
		{"item negative price", func(r *CreateOrderRequest) {
			r.Items = []OrderItemRequest{{ProductID: productID, Quantity: 1, UnitPrice: decimal.NewFromInt(-5)}}
		}, "unit_price"},
		{"declared total mismatch", func(r *CreateOrderRequest) {
			r.Items = []OrderItemRequest{{ProductID: productID, Quantity: 2, UnitPrice: decimal.NewFromInt(500)}}
			r.TotalAmount = decimalPtr(decimal.NewFromInt(999))
		}, "does not match"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest(sellerID, productID)
			tc.mutate(req)

			_, err := validateCreateOrder(req)
			var validation *models.OrderValidationError
			require.ErrorAs(t, err, &validation)
			assert.Contains(t, validation.Message, tc.wantErr)
		})
	}
}

func TestValidateCreateOrderDerivesFromItems(t *testing.T) {
	req := validRequest(uuid.New(), uuid.New())
	req.Quantity = 0
	req.TotalAmount = nil
	req.Items = []OrderItemRequest{
		{ProductID: uuid.New(), Quantity: 2, UnitPrice: decimal.NewFromInt(500)},
		{ProductID: uuid.New(), Quantity: 3, UnitPrice: decimal.NewFromInt(200)},
	}

	derived, err := validateCreateOrder(req)
	require.NoError(t, err)
	assert.Equal(t, 5, derived.Quantity)
	assert.True(t, derived.Total.Equal(decimal.NewFromInt(1600)))
}

func TestValidateCreateOrderExplicitFields(t *testing.T) {
	req := validRequest(uuid.New(), uuid.New())

	derived, err := validateCreateOrder(req)
	require.NoError(t, err)
	assert.Equal(t, 2, derived.Quantity)
	assert.True(t, derived.Total.Equal(decimal.NewFromInt(1000)))
}

func TestCreateOrderHappyPath(t *testing.T) {
	sellerID := uuid.New()
	product := testProduct(sellerID, 500, 10)
	store := newFakeOrderStore(product)
	svc, bus, audits, cache := newOrderService(store)

	order, err := svc.CreateOrder(context.Background(), validRequest(sellerID, product.ID))
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, 2, order.Quantity)
	assert.Equal(t, 8, product.InventoryQuantity)

	events := bus.History()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeOrderCreated, events[0].Type)
	payload := events[0].Payload.(models.OrderCreatedPayload)
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, models.OrderStatusPending, payload.Status)

	assert.Equal(t, 1, audits.count())
	assert.Contains(t, cache.invalidated, product.ID)
}

func TestCreateOrderWithItems(t *testing.T) {
	sellerID := uuid.New()
	product := testProduct(sellerID, 500, 10)
	store := newFakeOrderStore(product)
	svc, _, _, _ := newOrderService(store)

	req := validRequest(sellerID, product.ID)
	req.Quantity = 0
	req.TotalAmount = nil
	req.Items = []OrderItemRequest{
		{ProductID: product.ID, Quantity: 2, UnitPrice: decimal.NewFromInt(500)},
		{ProductID: product.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(300)},
	}
	req.ChannelMeta = &ChannelMetaRequest{MessageID: "wamid.123", ChatSessionID: "chat-9"}

	order, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, order.Quantity)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(1300)))
	require.Len(t, order.Items, 2)
	assert.True(t, order.Items[0].Subtotal.Equal(decimal.NewFromInt(1000)))
	assert.True(t, order.Items[1].Subtotal.Equal(decimal.NewFromInt(300)))

	meta := store.metas[order.ID]
	require.NotNil(t, meta)
	assert.Equal(t, models.ChannelWhatsApp, meta.Channel)
	assert.Equal(t, "wamid.123", meta.MessageID.String)
	assert.Equal(t, "chat-9", meta.ChatSessionID.String)
}

func TestCreateOrderInsufficientStockFails(t *testing.T) {
	sellerID := uuid.New()
	product := testProduct(sellerID, 500, 1)
	store := newFakeOrderStore(product)
	svc, bus, _, _ := newOrderService(store)

	req := validRequest(sellerID, product.ID)
	req.Quantity = 5
	req.TotalAmount = decimalPtr(decimal.NewFromInt(2500))

	_, err := svc.CreateOrder(context.Background(), req)

	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)

	assert.Equal(t, 1, product.InventoryQuantity)
	assert.Empty(t, store.orders)
	assert.Empty(t, bus.History())
}

func TestCreateOrderConcurrentReservations(t *testing.T) {
	sellerID := uuid.New()
	product := testProduct(sellerID, 500, 10)
	store := newFakeOrderStore(product)
	svc, bus, _, _ := newOrderService(store)

	// Twenty buyers race for ten units at two per order; only five can win.
	const buyers = 20
	results := make([]error, buyers)

	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.CreateOrder(context.Background(), validRequest(sellerID, product.ID))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *models.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
	}

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, product.InventoryQuantity, "reservations must never oversell")
	assert.Len(t, store.orders, 5)
	assert.Len(t, bus.History(), 5, "only persisted orders may announce themselves")
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	store := newFakeOrderStore()
	svc, _, _, _ := newOrderService(store)

	_, err := svc.CreateOrder(context.Background(), validRequest(uuid.New(), uuid.New()))
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestValidateOrderQuote(t *testing.T) {
	sellerID := uuid.New()
	product := testProduct(sellerID, 500, 10)
	store := newFakeOrderStore(product)
	svc, _, _, _ := newOrderService(store)

	quote, err := svc.ValidateOrder(context.Background(), validRequest(sellerID, product.ID))
	require.NoError(t, err)
	assert.Equal(t, product.ID, quote.ProductID)
	assert.Equal(t, 2, quote.Quantity)
	assert.Equal(t, 10, quote.Available)
	assert.True(t, quote.TotalAmount.Equal(decimal.NewFromInt(1000)))

	// Nothing was reserved or persisted.
	assert.Equal(t, 10, product.InventoryQuantity)
	assert.Empty(t, store.orders)
}

func TestValidateOrderInsufficientStock(t *testing.T) {
	sellerID := uuid.New()
	product := testProduct(sellerID, 500, 1)
	store := newFakeOrderStore(product)
	svc, _, _, _ := newOrderService(store)

	req := validRequest(sellerID, product.ID)
	req.Quantity = 3
	req.TotalAmount = decimalPtr(decimal.NewFromInt(1500))

	_, err := svc.ValidateOrder(context.Background(), req)

	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
}

func TestValidateOrderUsesCachedAvailability(t *testing.T) {
	sellerID := uuid.New()
	product := testProduct(sellerID, 500, 10)
	store := newFakeOrderStore(product)
	svc, _, _, cache := newOrderService(store)

	require.NoError(t, cache.SetCachedInventory(context.Background(), product.ID, 7, time.Minute))

	quote, err := svc.ValidateOrder(context.Background(), validRequest(sellerID, product.ID))
	require.NoError(t, err)
	assert.Equal(t, 7, quote.Available, "cached value wins over the database")
}

func TestGetOrderLoadsItems(t *testing.T) {
	sellerID := uuid.New()
	product := testProduct(sellerID, 500, 10)
	store := newFakeOrderStore(product)
	svc, _, _, _ := newOrderService(store)

	req := validRequest(sellerID, product.ID)
	req.Quantity = 0
	req.TotalAmount = nil
	req.Items = []OrderItemRequest{{ProductID: product.ID, Quantity: 2, UnitPrice: decimal.NewFromInt(500)}}

	created, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	loaded, err := svc.GetOrder(context.Background(), created.ID, sellerID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, 2, loaded.Items[0].Quantity)
}

func TestGetOrderWrongSeller(t *testing.T) {
	sellerID := uuid.New()
	product := testProduct(sellerID, 500, 10)
	store := newFakeOrderStore(product)
	svc, _, _, _ := newOrderService(store)

	created, err := svc.CreateOrder(context.Background(), validRequest(sellerID, product.ID))
	require.NoError(t, err)

	_, err = svc.GetOrder(context.Background(), created.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}
