package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"techstore/internal/domain"
	"techstore/internal/middleware"
	"techstore/internal/repository"
	"techstore/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
)

// Mock repositories and file store for testing

type mockProductRepository struct {
	products map[int64]*domain.Product
	nextID   int64
}

func newMockProductRepository() *mockProductRepository {
	return &mockProductRepository{
		products: make(map[int64]*domain.Product),
		nextID:   1,
	}
}

func (m *mockProductRepository) seed(product *domain.Product) *domain.Product {
	p := *product
	p.ID = m.nextID
	m.nextID++
	m.products[p.ID] = &p
	return &p
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	created := *product
	created.ID = m.nextID
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	m.nextID++
	m.products[created.ID] = &created

	result := created
	return &result, nil
}

func (m *mockProductRepository) Update(ctx context.Context, product *domain.Product, image *string) (*domain.Product, error) {
	existing, exists := m.products[product.ID]
	if !exists {
		return nil, repository.ErrProductNotFound
	}

	existing.Name = product.Name
	existing.Description = product.Description
	existing.Price = product.Price
	existing.Stock = product.Stock
	if image != nil {
		existing.Image = *image
	}
	existing.UpdatedAt = time.Now()

	result := *existing
	return &result, nil
}

func (m *mockProductRepository) Delete(ctx context.Context, id int64) error {
	if _, exists := m.products[id]; !exists {
		return repository.ErrProductNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *mockProductRepository) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	product, exists := m.products[id]
	if !exists {
		return nil, repository.ErrProductNotFound
	}
	result := *product
	return &result, nil
}

func (m *mockProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	products := make([]*domain.Product, 0, len(m.products))
	for _, p := range m.products {
		result := *p
		products = append(products, &result)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})
	return products, nil
}

type mockFileStore struct {
	saves int
}

func (m *mockFileStore) Save(filename string, r io.Reader) (string, error) {
	io.Copy(io.Discard, r)
	m.saves++
	return fmt.Sprintf("/uploads/%d-%s", m.saves, filename), nil
}

type testEnv struct {
	router *chi.Mux
	auth   service.AuthService
	repo   *mockProductRepository
	store  *mockFileStore
}

func newTestEnv() *testEnv {
	logger := zap.NewNop()
	repo := newMockProductRepository()
	store := &mockFileStore{}

	authService := service.NewAuthService(nil, "test-secret")
	productService := service.NewProductService(repo, store)
	handler := NewProductHandler(productService, logger)

	router := chi.NewRouter()
	handler.RegisterRoutes(router, middleware.AuthMiddleware(authService, logger))

	return &testEnv{router: router, auth: authService, repo: repo, store: store}
}

func (e *testEnv) token(t *testing.T, userID int64, isAdmin bool) string {
	t.Helper()
	token, err := e.auth.IssueToken(userID, isAdmin)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// multipartBody builds a product form; an empty imageName omits the file part.
func multipartBody(t *testing.T, fields map[string]string, imageName string, imageData []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write form field: %v", err)
		}
	}
	if imageName != "" {
		fw, err := mw.CreateFormFile("image", imageName)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		fw.Write(imageData)
	}
	mw.Close()
	return buf, mw.FormDataContentType()
}

func validFields() map[string]string {
	return map[string]string{
		"name":        "RTX 4090",
		"description": "Graphics card",
		"price":       "1599.99",
		"stock":       "15",
	}
}

func TestCreateProduct_Success(t *testing.T) {
	env := newTestEnv()

	body, contentType := multipartBody(t, validFields(), "card.png", []byte("png-bytes"))
	req := httptest.NewRequest("POST", "/products", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+env.token(t, 7, true))
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var product domain.Product
	if err := json.Unmarshal(w.Body.Bytes(), &product); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if product.CreatedBy != 7 {
		t.Errorf("expected created_by 7, got %d", product.CreatedBy)
	}
	if product.Price != 1599.99 {
		t.Errorf("expected price 1599.99, got %v", product.Price)
	}
	if product.Stock != 15 {
		t.Errorf("expected stock 15, got %d", product.Stock)
	}
	if product.Image == "" {
		t.Error("expected a stored image reference")
	}
	if env.store.saves != 1 {
		t.Errorf("expected one stored file, got %d", env.store.saves)
	}
}

func TestProperty_CreateWithMissingFieldsRejectedBeforeStorage(t *testing.T) {
	properties := gopter.NewProperties(nil)

	fieldNames := []string{"name", "description", "price", "stock"}

	properties.Property("any missing field yields 400 with storage and store untouched", prop.ForAll(
		func(missingIdx int) bool {
			env := newTestEnv()

			fields := validFields()
			delete(fields, fieldNames[missingIdx%len(fieldNames)])

			body, contentType := multipartBody(t, fields, "card.png", []byte("png-bytes"))
			req := httptest.NewRequest("POST", "/products", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+env.token(t, 1, true))
			w := httptest.NewRecorder()

			env.router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Logf("FAIL: expected 400, got %d", w.Code)
				return false
			}

			var response middleware.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				return false
			}
			if response.Error.Message != "Missing required fields" {
				t.Logf("FAIL: unexpected message %q", response.Error.Message)
				return false
			}

			return len(env.repo.products) == 0 && env.store.saves == 0
		},
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestCreateProduct_MissingImageRejected(t *testing.T) {
	env := newTestEnv()

	body, contentType := multipartBody(t, validFields(), "", nil)
	req := httptest.NewRequest("POST", "/products", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+env.token(t, 1, true))
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(env.repo.products) != 0 || env.store.saves != 0 {
		t.Error("store state changed on a rejected create")
	}
}

func TestCreateProduct_NegativePriceRejected(t *testing.T) {
	env := newTestEnv()

	fields := validFields()
	fields["price"] = "-5"

	body, contentType := multipartBody(t, fields, "card.png", []byte("png-bytes"))
	req := httptest.NewRequest("POST", "/products", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+env.token(t, 1, true))
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(env.repo.products) != 0 {
		t.Error("product created despite negative price")
	}
}

func TestProperty_NonAdminMutationsForbidden(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("a valid non-admin token gets 403 and data is unchanged", prop.ForAll(
		func(userID int64, method int) bool {
			env := newTestEnv()
			existing := env.repo.seed(&domain.Product{
				Name: "Widget", Description: "A widget", Price: 1, Stock: 1,
				Image: "/uploads/1-w.png", CreatedBy: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
			})

			token := env.token(t, userID, false)

			var req *http.Request
			switch method % 3 {
			case 0:
				body, contentType := multipartBody(t, validFields(), "card.png", []byte("x"))
				req = httptest.NewRequest("POST", "/products", body)
				req.Header.Set("Content-Type", contentType)
			case 1:
				body, contentType := multipartBody(t, validFields(), "", nil)
				req = httptest.NewRequest("PUT", fmt.Sprintf("/products/%d", existing.ID), body)
				req.Header.Set("Content-Type", contentType)
			default:
				req = httptest.NewRequest("DELETE", fmt.Sprintf("/products/%d", existing.ID), nil)
			}
			req.Header.Set("Authorization", "Bearer "+token)

			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != http.StatusForbidden {
				t.Logf("FAIL: expected 403, got %d", w.Code)
				return false
			}

			// Underlying data unchanged
			stored, err := env.repo.FindByID(context.Background(), existing.ID)
			if err != nil || *stored != *existing {
				t.Logf("FAIL: data changed under a forbidden request")
				return false
			}
			return len(env.repo.products) == 1
		},
		gen.Int64Range(2, 100000),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestMutationsWithoutTokenUnauthorized(t *testing.T) {
	env := newTestEnv()

	for _, tc := range []struct{ method, path string }{
		{"POST", "/products"},
		{"PUT", "/products/1"},
		{"DELETE", "/products/1"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestUpdateProduct_WithoutImagePreservesReference(t *testing.T) {
	env := newTestEnv()
	existing := env.repo.seed(&domain.Product{
		Name: "Widget", Description: "A widget", Price: 1, Stock: 1,
		Image: "/uploads/42-original.png", CreatedBy: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})

	body, contentType := multipartBody(t, validFields(), "", nil)
	req := httptest.NewRequest("PUT", fmt.Sprintf("/products/%d", existing.ID), body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+env.token(t, 1, true))
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var product domain.Product
	if err := json.Unmarshal(w.Body.Bytes(), &product); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if product.Image != "/uploads/42-original.png" {
		t.Errorf("image reference not preserved: %q", product.Image)
	}
	if env.store.saves != 0 {
		t.Errorf("expected no stored files, got %d", env.store.saves)
	}
}

func TestUpdateProduct_UnknownIDNotFound(t *testing.T) {
	env := newTestEnv()

	body, contentType := multipartBody(t, validFields(), "", nil)
	req := httptest.NewRequest("PUT", "/products/9999", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+env.token(t, 1, true))
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDeleteProduct(t *testing.T) {
	env := newTestEnv()
	existing := env.repo.seed(&domain.Product{
		Name: "Widget", Description: "A widget", Price: 1, Stock: 1,
		Image: "/uploads/1-w.png", CreatedBy: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})

	req := httptest.NewRequest("DELETE", fmt.Sprintf("/products/%d", existing.ID), nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, 1, true))
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(env.repo.products) != 0 {
		t.Error("product not removed")
	}
}

func TestDeleteProduct_UnknownIDLeavesTableUnchanged(t *testing.T) {
	env := newTestEnv()
	env.repo.seed(&domain.Product{
		Name: "Widget", Description: "A widget", Price: 1, Stock: 1,
		Image: "/uploads/1-w.png", CreatedBy: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})

	before, _ := env.repo.List(context.Background())

	req := httptest.NewRequest("DELETE", "/products/9999", nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, 1, true))
	w := httptest.NewRecorder()

	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	after, _ := env.repo.List(context.Background())
	if len(before) != len(after) {
		t.Error("product table changed on a failed delete")
	}
}

func TestListProducts_PublicAndNewestFirst(t *testing.T) {
	env := newTestEnv()

	base := time.Now()
	for i := 0; i < 3; i++ {
		env.repo.seed(&domain.Product{
			Name: fmt.Sprintf("p%d", i), Description: "d", Price: 1, Stock: 1,
			Image: "/uploads/p.png", CreatedBy: 1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	// No Authorization header: the read path is public
	req := httptest.NewRequest("GET", "/products", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var products []domain.Product
	if err := json.Unmarshal(w.Body.Bytes(), &products); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(products) != 3 {
		t.Fatalf("expected 3 products, got %d", len(products))
	}
	for i := 1; i < len(products); i++ {
		if products[i].CreatedAt.After(products[i-1].CreatedAt) {
			t.Error("products not ordered by creation time descending")
		}
	}
}

func TestGetProduct(t *testing.T) {
	env := newTestEnv()
	existing := env.repo.seed(&domain.Product{
		Name: "Widget", Description: "A widget", Price: 1, Stock: 1,
		Image: "/uploads/1-w.png", CreatedBy: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})

	req := httptest.NewRequest("GET", fmt.Sprintf("/products/%d", existing.ID), nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/products/9999", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", w.Code)
	}
}
