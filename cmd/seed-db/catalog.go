package main

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/wholesale-orders/internal/domain/product"
	"github.com/xenking/wholesale-orders/internal/domain/user"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var catalog = []product.Product{
	{
		ID: "TAV101-EBN-SM", SKU: "TAV101-EBN-SM", Name: "Pleated Long Sleeve Top", Color: "Ebony", Size: "Small",
		WholesalePrice: price("17.00"), RetailPrice: price("29.99"), DiscountPercentage: price("0"), Stock: 4,
	},
	{
		ID: "TAV101-EBN-MD", SKU: "TAV101-EBN-MD", Name: "Pleated Long Sleeve Top", Color: "Ebony", Size: "Medium",
		WholesalePrice: price("17.00"), RetailPrice: price("29.99"), DiscountPercentage: price("5"), Stock: 5,
	},
	{
		ID: "TAV101-GNT-MD", SKU: "TAV101-GNT-MD", Name: "Pleated Long Sleeve Top", Color: "Garnet", Size: "Medium",
		WholesalePrice: price("20.00"), RetailPrice: price("29.99"), DiscountPercentage: price("10"), Stock: 2,
	},
	{
		ID: "TAV001-PSW-MD", SKU: "TAV001-PSW-MD", Name: "Savvy Grip Socks", Color: "Green Pastel", Size: "Medium",
		WholesalePrice: price("8.00"), RetailPrice: price("19.99"), DiscountPercentage: price("0"), Stock: 11,
	},
	{
		ID: "TAV102-LMT-SM", SKU: "TAV102-LMT-SM", Name: "Tavi Neck Bra", Color: "Lime Tropic", Size: "Small",
		WholesalePrice: price("17.50"), RetailPrice: price("24.99"), DiscountPercentage: price("15"), Stock: 9,
	},
}

var demoUser = user.User{
	ID:           "demo",
	Email:        "buyer@example.com",
	Name:         "Demo Buyer",
	Company:      "Demo Apparel Ltd",
	VATNumber:    "EL123456789",
	PhoneNumber:  "+30 210 0000000",
	Address:      "1 Market Street, Athens",
	Role:         user.RoleUser,
	DiscountRate: price("0.10"),
	Approved:     true,
}

// demoCart maps product ids to quantities.
var demoCart = map[string]int{
	"TAV101-EBN-SM": 2,
	"TAV001-PSW-MD": 3,
}
