package service

import (
	"levelup-loyalty/internal/models"
)

// stockLine is a quantity of one product taken from or returned to stock
type stockLine struct {
	ProductID string
	Quantity  int
}

func findProduct(products []models.Product, codigo string) int {
	for i := range products {
		if products[i].Codigo == codigo {
			return i
		}
	}
	return -1
}

// reserveStock decrements stock for every line. Nothing is changed unless
// every line is covered.
func reserveStock(products []models.Product, lines []stockLine) error {
	wanted := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := wanted[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		wanted[line.ProductID] += line.Quantity
	}

	for _, id := range order {
		idx := findProduct(products, id)
		if idx < 0 {
			return models.ErrNotFound.WithContext("product_id", id)
		}
		if products[idx].Stock < wanted[id] {
			return models.ErrOutOfStock.WithContext(
				"product_id", id,
				"available", products[idx].Stock,
				"requested", wanted[id],
			)
		}
	}

	for _, id := range order {
		products[findProduct(products, id)].Stock -= wanted[id]
	}
	return nil
}

// releaseStock returns every line to stock and reports products no longer in
// the catalog
func releaseStock(products []models.Product, lines []stockLine) []string {
	var missing []string
	for _, line := range lines {
		idx := findProduct(products, line.ProductID)
		if idx < 0 {
			missing = append(missing, line.ProductID)
			continue
		}
		products[idx].Stock += line.Quantity
	}
	return missing
}
