package service

import (
	"testing"

	"levelup-loyalty/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveStockIsAllOrNothing(t *testing.T) {
	products := []models.Product{
		{Codigo: "A", Stock: 3},
		{Codigo: "B", Stock: 1},
	}

	err := reserveStock(products, []stockLine{{"A", 2}, {"B", 2}})
	assert.ErrorIs(t, err, models.ErrOutOfStock)
	assert.Equal(t, 3, products[0].Stock)
	assert.Equal(t, 1, products[1].Stock)

	err = reserveStock(products, []stockLine{{"A", 2}, {"A", 2}})
	assert.ErrorIs(t, err, models.ErrOutOfStock)
	assert.Equal(t, 3, products[0].Stock)

	require.NoError(t, reserveStock(products, []stockLine{{"A", 2}, {"B", 1}}))
	assert.Equal(t, 1, products[0].Stock)
	assert.Equal(t, 0, products[1].Stock)
}

func TestReserveStockUnknownProduct(t *testing.T) {
	err := reserveStock([]models.Product{{Codigo: "A", Stock: 3}}, []stockLine{{"Z", 1}})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReleaseStock(t *testing.T) {
	products := []models.Product{{Codigo: "A", Stock: 0}}
	missing := releaseStock(products, []stockLine{{"A", 2}, {"gone", 1}})
	assert.Equal(t, 2, products[0].Stock)
	assert.Equal(t, []string{"gone"}, missing)
}
