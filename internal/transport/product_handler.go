package transport

import (
	"net/http"
	"strconv"

	"techstore/internal/middleware"
	"techstore/internal/repository"
	"techstore/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxUploadSize bounds the in-memory portion of multipart parsing
const maxUploadSize = 10 << 20 // 10 MB

// productForm holds the parsed multipart fields of a product mutation
type productForm struct {
	Name        string  `validate:"required"`
	Description string  `validate:"required"`
	Price       float64 `validate:"gte=0"`
	Stock       int     `validate:"gte=0"`
}

// ProductHandler handles HTTP requests for catalog reads and product mutations
type ProductHandler struct {
	productService service.ProductService
	logger         *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(productService service.ProductService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		productService: productService,
		logger:         logger,
	}
}

// RegisterRoutes registers all product routes. Reads are public; mutations
// go through the auth middleware and an in-handler admin check.
func (h *ProductHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/products", func(r chi.Router) {
		// Public routes
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)

		// Admin-only mutations
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/", h.Create)
			r.Put("/{id}", h.Update)
			r.Delete("/{id}", h.Delete)
		})
	})
}

// List handles GET /products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.productService.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list products", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// Get handles GET /products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	product, err := h.productService.Get(r.Context(), id)
	if err != nil {
		if err == repository.ErrProductNotFound {
			middleware.RespondWithError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("Failed to get product", zap.Int64("id", id), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// Create handles POST /products
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.logger.Debug("Failed to parse multipart form", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		// The image attachment is part of the required field set on create.
		middleware.RespondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	defer file.Close()

	form, ok := h.parseProductForm(w, r)
	if !ok {
		return
	}

	product, err := h.productService.Create(r.Context(), service.ProductInput{
		Name:        form.Name,
		Description: form.Description,
		Price:       form.Price,
		Stock:       form.Stock,
		Image: &service.ImageUpload{
			Filename: header.Filename,
			Data:     file,
		},
	}, userID)
	if err != nil {
		h.logger.Error("Failed to create product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	h.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.Int64("created_by", userID),
	)
	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

// Update handles PUT /products/{id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.logger.Debug("Failed to parse multipart form", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	form, ok := h.parseProductForm(w, r)
	if !ok {
		return
	}

	input := service.ProductInput{
		Name:        form.Name,
		Description: form.Description,
		Price:       form.Price,
		Stock:       form.Stock,
	}

	// A new image is optional on update; without one the stored reference
	// is preserved.
	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()
		input.Image = &service.ImageUpload{
			Filename: header.Filename,
			Data:     file,
		}
	}

	product, err := h.productService.Update(r.Context(), id, input)
	if err != nil {
		if err == repository.ErrProductNotFound {
			middleware.RespondWithError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("Failed to update product", zap.Int64("id", id), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to update product")
		return
	}

	h.logger.Info("Product updated", zap.Int64("product_id", product.ID))
	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// Delete handles DELETE /products/{id}
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	if err := h.productService.Delete(r.Context(), id); err != nil {
		if err == repository.ErrProductNotFound {
			middleware.RespondWithError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("Failed to delete product", zap.Int64("id", id), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}

	h.logger.Info("Product deleted", zap.Int64("product_id", id))
	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Product deleted successfully"})
}

// requireAdmin enforces the admin claim for mutating operations. The auth
// middleware has already authenticated the caller; this is the
// authorization level check.
func (h *ProductHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.logger.Error("User ID not found in context")
		middleware.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}

	isAdmin, ok := middleware.GetIsAdmin(r.Context())
	if !ok || !isAdmin {
		h.logger.Warn("Non-admin user attempted a product mutation",
			zap.Int64("user_id", userID),
		)
		middleware.RespondWithError(w, http.StatusForbidden, "forbidden")
		return 0, false
	}

	return userID, true
}

// productID parses the {id} route parameter
func (h *ProductHandler) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

// parseProductForm checks field presence first, then parses the numeric
// fields, then applies range validation. It writes the error response
// itself and reports whether the form is usable.
func (h *ProductHandler) parseProductForm(w http.ResponseWriter, r *http.Request) (*productForm, bool) {
	name := r.FormValue("name")
	description := r.FormValue("description")
	priceStr := r.FormValue("price")
	stockStr := r.FormValue("stock")

	if name == "" || description == "" || priceStr == "" || stockStr == "" {
		middleware.RespondWithError(w, http.StatusBadRequest, "Missing required fields")
		return nil, false
	}

	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid price value")
		return nil, false
	}

	stock, err := strconv.Atoi(stockStr)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid stock value")
		return nil, false
	}

	form := &productForm{
		Name:        name,
		Description: description,
		Price:       price,
		Stock:       stock,
	}

	if err := middleware.ValidateRequest(form); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return nil, false
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid form data")
		return nil, false
	}

	return form, true
}
