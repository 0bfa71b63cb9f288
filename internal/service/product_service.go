package service

import (
	"context"
	"fmt"
	"io"

	"techstore/internal/domain"
	"techstore/internal/repository"
	"techstore/internal/storage"
)

// ImageUpload is a binary attachment accompanying a product mutation
type ImageUpload struct {
	Filename string
	Data     io.Reader
}

// ProductInput carries the validated fields of a create or update request
type ProductInput struct {
	Name        string
	Description string
	Price       float64
	Stock       int
	Image       *ImageUpload // required on create, optional on update
}

// ProductService implements catalog reads and admin product mutations
type ProductService interface {
	List(ctx context.Context) ([]*domain.Product, error)
	Get(ctx context.Context, id int64) (*domain.Product, error)
	Create(ctx context.Context, in ProductInput, createdBy int64) (*domain.Product, error)
	Update(ctx context.Context, id int64, in ProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id int64) error
}

type productService struct {
	productRepo repository.ProductRepository
	fileStore   storage.FileStore
}

// NewProductService creates a new instance of ProductService
func NewProductService(productRepo repository.ProductRepository, fileStore storage.FileStore) ProductService {
	return &productService{
		productRepo: productRepo,
		fileStore:   fileStore,
	}
}

// List returns every product, newest first
func (s *productService) List(ctx context.Context) ([]*domain.Product, error) {
	return s.productRepo.List(ctx)
}

// Get returns a single product by id
func (s *productService) Get(ctx context.Context, id int64) (*domain.Product, error) {
	return s.productRepo.FindByID(ctx, id)
}

// Create stores the image first and only then inserts the row, so a failed
// file write never leaves a product pointing at a missing asset.
func (s *productService) Create(ctx context.Context, in ProductInput, createdBy int64) (*domain.Product, error) {
	imagePath, err := s.fileStore.Save(in.Image.Filename, in.Image.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to store product image: %w", err)
	}

	product := &domain.Product{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Image:       imagePath,
		CreatedBy:   createdBy,
	}

	return s.productRepo.Create(ctx, product)
}

// Update replaces the stored image only when a new one was supplied;
// otherwise the existing reference is preserved unchanged.
func (s *productService) Update(ctx context.Context, id int64, in ProductInput) (*domain.Product, error) {
	var imagePath *string
	if in.Image != nil {
		stored, err := s.fileStore.Save(in.Image.Filename, in.Image.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to store product image: %w", err)
		}
		imagePath = &stored
	}

	product := &domain.Product{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
	}

	return s.productRepo.Update(ctx, product, imagePath)
}

// Delete removes a product by id
func (s *productService) Delete(ctx context.Context, id int64) error {
	return s.productRepo.Delete(ctx, id)
}
