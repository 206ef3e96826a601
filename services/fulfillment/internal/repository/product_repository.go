package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// ProductRepository определяет интерфейс чтения каталога товаров.
// Каталог наполняется out-of-band, fulfillment его только читает.
type ProductRepository interface {
	// GetByID возвращает товар по ID (включая неактивные).
	GetByID(ctx context.Context, productID string) (*domain.Product, error)

	// GetActiveByIDs возвращает активные товары по списку ID.
	// Отсутствующие и неактивные товары в результат не попадают —
	// вызывающий сверяет длину результата со списком запрошенных.
	GetActiveByIDs(ctx context.Context, productIDs []string) (map[string]*domain.Product, error)
}

// ProductModel — GORM модель для таблицы products.
type ProductModel struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name        string    `gorm:"column:name;type:varchar(255);not null"`
	Description string    `gorm:"column:description;type:text"`
	Price       int64     `gorm:"column:price;not null"`
	Category    string    `gorm:"column:category;type:varchar(100);index"`
	ImageURL    *string   `gorm:"column:image_url;type:varchar(512)"`
	Active      bool      `gorm:"column:active;not null;default:true;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ProductModel) TableName() string {
	return "products"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *ProductModel) toDomain() *domain.Product {
	return &domain.Product{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		Category:    m.Category,
		ImageURL:    m.ImageURL,
		Active:      m.Active,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// productRepository — GORM реализация ProductRepository.
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository создаёт новый репозиторий товаров.
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// GetByID возвращает товар по ID.
func (r *productRepository) GetByID(ctx context.Context, productID string) (*domain.Product, error) {
	var model ProductModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", productID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetActiveByIDs возвращает активные товары по списку ID.
func (r *productRepository) GetActiveByIDs(ctx context.Context, productIDs []string) (map[string]*domain.Product, error) {
	if len(productIDs) == 0 {
		return map[string]*domain.Product{}, nil
	}

	var models []ProductModel
	if err := r.db.WithContext(ctx).
		Where("id IN ? AND active = ?", productIDs, true).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make(map[string]*domain.Product, len(models))
	for i := range models {
		result[models[i].ID] = models[i].toDomain()
	}
	return result, nil
}
