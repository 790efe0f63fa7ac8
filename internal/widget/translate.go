package widget

import (
	"strings"

	domain "github.com/clairmont-cellars/api/internal/domain"
)

// TranslateAddress converts the provider payload into the internal address
// shape. The locker/store identifier is packed into street line three,
// truncated to the backend's column limit; the shopper's name rides on the
// address so carrier labels stay addressed to a person.
func TranslateAddress(addr ProviderAddress, firstName, lastName string) domain.Address {
	return domain.Address{
		FirstName:  strings.TrimSpace(firstName),
		LastName:   strings.TrimSpace(lastName),
		Company:    strings.TrimSpace(addr.Name),
		Street1:    strings.TrimSpace(addr.Line1),
		Street2:    strings.TrimSpace(addr.Line2),
		Street3:    domain.PackedLockerID(addr.LocationID),
		City:       strings.TrimSpace(addr.City),
		ProvinceID: addr.ProvinceID,
		PostalCode: strings.TrimSpace(addr.PostalCode),
	}
}
