package service

import (
	"context"
	"strings"
	"time"

	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/store"
	"levelup-loyalty/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService manages products
type CatalogService struct {
	gw     *store.Gateway
	logger *zap.Logger
	now    func() time.Time
}

// NewCatalogService creates a new catalog service
func NewCatalogService(gw *store.Gateway) *CatalogService {
	return &CatalogService{
		gw:     gw,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// ProductPatch changes the non-nil fields of a product
type ProductPatch struct {
	Categoria   *string          `json:"categoria,omitempty"`
	Marca       *string          `json:"marca,omitempty"`
	Nombre      *string          `json:"nombre,omitempty"`
	Descripcion *string          `json:"descripcion,omitempty"`
	Precio      *decimal.Decimal `json:"precio,omitempty"`
	Stock       *int             `json:"stock,omitempty"`
	Puntos      *int             `json:"puntos,omitempty"`
	Imagen      *string          `json:"imagen,omitempty"`
	Activo      *bool            `json:"activo,omitempty"`
	Canjeable   *bool            `json:"canjeable,omitempty"`
}

func (p *ProductPatch) empty() bool {
	return p.Categoria == nil && p.Marca == nil && p.Nombre == nil && p.Descripcion == nil &&
		p.Precio == nil && p.Stock == nil && p.Puntos == nil && p.Imagen == nil &&
		p.Activo == nil && p.Canjeable == nil
}

// Get returns a product by code
func (s *CatalogService) Get(ctx context.Context, codigo string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Get")
	defer span.End()

	products := store.ReadCollection[models.Product](ctx, s.gw, store.KeyProducts)
	idx := findProduct(products, codigo)
	if idx < 0 {
		return nil, models.ErrNotFound.WithContext("product_id", codigo)
	}
	return &products[idx], nil
}

// List returns the whole catalog
func (s *CatalogService) List(ctx context.Context) []models.Product {
	ctx, span := util.StartSpan(ctx, "CatalogService.List")
	defer span.End()

	return store.ReadCollection[models.Product](ctx, s.gw, store.KeyProducts)
}

// ListRedeemable returns active products that can be bought with points
func (s *CatalogService) ListRedeemable(ctx context.Context) []models.Product {
	out := make([]models.Product, 0)
	for _, p := range s.List(ctx) {
		if p.Activo && p.Canjeable && p.Puntos != nil && *p.Puntos > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Create adds a product to the catalog
func (s *CatalogService) Create(ctx context.Context, product models.Product) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Create")
	defer span.End()

	product.Codigo = strings.TrimSpace(product.Codigo)
	if err := validateProduct(&product); err != nil {
		return nil, err
	}

	err := s.gw.Serialize(func() error {
		products, err := store.LoadCollection[models.Product](ctx, s.gw, store.KeyProducts)
		if err != nil {
			return err
		}
		if findProduct(products, product.Codigo) >= 0 {
			return models.ErrInvalidProduct.WithContext("product_id", product.Codigo, "reason", "duplicate code")
		}

		now := s.now().UTC()
		product.FechaCreacion = now
		product.FechaActualizacion = now
		products = append(products, product)

		batch := store.NewBatch("create product " + product.Codigo)
		if err := batch.PutCollection(store.KeyProducts, products); err != nil {
			return err
		}
		return s.gw.Commit(ctx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product created", zap.String("product_id", product.Codigo))
	return &product, nil
}

// Update applies patch to a product. An empty patch writes nothing.
func (s *CatalogService) Update(ctx context.Context, codigo string, patch *ProductPatch) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Update")
	defer span.End()

	var updated models.Product
	err := s.gw.Serialize(func() error {
		products, err := store.LoadCollection[models.Product](ctx, s.gw, store.KeyProducts)
		if err != nil {
			return err
		}
		idx := findProduct(products, codigo)
		if idx < 0 {
			return models.ErrNotFound.WithContext("product_id", codigo)
		}
		if patch == nil || patch.empty() {
			updated = products[idx]
			return nil
		}

		p := products[idx]
		if patch.Categoria != nil {
			p.Categoria = *patch.Categoria
		}
		if patch.Marca != nil {
			p.Marca = *patch.Marca
		}
		if patch.Nombre != nil {
			p.Nombre = *patch.Nombre
		}
		if patch.Descripcion != nil {
			p.Descripcion = *patch.Descripcion
		}
		if patch.Precio != nil {
			p.Precio = *patch.Precio
		}
		if patch.Stock != nil {
			p.Stock = *patch.Stock
		}
		if patch.Puntos != nil {
			puntos := *patch.Puntos
			p.Puntos = &puntos
		}
		if patch.Imagen != nil {
			p.Imagen = *patch.Imagen
		}
		if patch.Activo != nil {
			p.Activo = *patch.Activo
		}
		if patch.Canjeable != nil {
			p.Canjeable = *patch.Canjeable
		}
		if err := validateProduct(&p); err != nil {
			return err
		}
		p.FechaActualizacion = s.now().UTC()
		products[idx] = p

		batch := store.NewBatch("update product " + codigo)
		if err := batch.PutCollection(store.KeyProducts, products); err != nil {
			return err
		}
		if err := s.gw.Commit(ctx, batch); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// validateProduct enforces that redeemable products carry a points cost
func validateProduct(p *models.Product) error {
	switch {
	case p.Codigo == "":
		return models.ErrInvalidProduct.WithContext("reason", "missing code")
	case strings.TrimSpace(p.Nombre) == "":
		return models.ErrInvalidProduct.WithContext("product_id", p.Codigo, "reason", "missing name")
	case p.Precio.IsNegative():
		return models.ErrInvalidProduct.WithContext("product_id", p.Codigo, "reason", "negative price")
	case p.Stock < 0:
		return models.ErrInvalidProduct.WithContext("product_id", p.Codigo, "reason", "negative stock")
	case p.Puntos != nil && *p.Puntos < 0:
		return models.ErrInvalidProduct.WithContext("product_id", p.Codigo, "reason", "negative points")
	case p.Canjeable && (p.Puntos == nil || *p.Puntos == 0):
		return models.ErrProductMisconfigured.WithContext("product_id", p.Codigo)
	}
	return nil
}
