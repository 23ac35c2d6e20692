package scenario

import (
	"fmt"
	"sort"

	"github.com/brianvoe/gofakeit/v7"
)

// fakerFunctions maps {{faker.<kind>}} names to generators.
var fakerFunctions = map[string]func(*gofakeit.Faker) any{
	// Person
	"name":      func(f *gofakeit.Faker) any { return f.Name() },
	"firstName": func(f *gofakeit.Faker) any { return f.FirstName() },
	"lastName":  func(f *gofakeit.Faker) any { return f.LastName() },

	// Contact
	"email": func(f *gofakeit.Faker) any { return f.Email() },
	"phone": func(f *gofakeit.Faker) any { return f.Phone() },

	// Address
	"street":  func(f *gofakeit.Faker) any { return f.Street() },
	"city":    func(f *gofakeit.Faker) any { return f.City() },
	"country": func(f *gofakeit.Faker) any { return f.Country() },
	"zipCode": func(f *gofakeit.Faker) any { return f.Zip() },

	// Company
	"company":  func(f *gofakeit.Faker) any { return f.Company() },
	"jobTitle": func(f *gofakeit.Faker) any { return f.JobTitle() },

	// Internet
	"url":       func(f *gofakeit.Faker) any { return f.URL() },
	"username":  func(f *gofakeit.Faker) any { return f.Username() },
	"password":  func(f *gofakeit.Faker) any { return f.Password(true, true, true, false, false, 12) },
	"ipv4":      func(f *gofakeit.Faker) any { return f.IPv4Address() },
	"userAgent": func(f *gofakeit.Faker) any { return f.UserAgent() },

	// Identifiers
	"uuid": func(f *gofakeit.Faker) any { return f.UUID() },

	// Text
	"word":     func(f *gofakeit.Faker) any { return f.Word() },
	"sentence": func(f *gofakeit.Faker) any { return f.Sentence(5) },

	// Numbers
	"digit":  func(f *gofakeit.Faker) any { return f.Digit() },
	"number": func(f *gofakeit.Faker) any { return f.Number(1, 100) },
	"price":  func(f *gofakeit.Faker) any { return f.Price(1, 1000) },
	"bool":   func(f *gofakeit.Faker) any { return f.Bool() },

	// Date/Time
	"date":     func(f *gofakeit.Faker) any { return f.Date().Format("2006-01-02") },
	"datetime": func(f *gofakeit.Faker) any { return f.Date().Format("2006-01-02T15:04:05Z07:00") },

	// Commerce
	"productName": func(f *gofakeit.Faker) any { return f.ProductName() },
	"currency":    func(f *gofakeit.Faker) any { return f.Currency().Short },
	"creditCard":  func(f *gofakeit.Faker) any { return f.CreditCardNumber(nil) },
}

// FakerKinds returns the supported {{faker.<kind>}} names, sorted.
func FakerKinds() []string {
	kinds := make([]string, 0, len(fakerFunctions))
	for k := range fakerFunctions {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func fake(f *gofakeit.Faker, kind string) (string, bool) {
	fn, ok := fakerFunctions[kind]
	if !ok {
		return "", false
	}
	return fmt.Sprint(fn(f)), true
}
