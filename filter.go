package rxserial

import (
	"fmt"
	"strconv"
	"strings"
)

const maxUSBID = 0xffff

// RequestOptions is handed to Platform.RequestPort. A nil *RequestOptions
// lets the platform offer every available port.
type RequestOptions struct {
	Filters []Filter
}

// BuildRequestOptions validates cfg.Filters and converts them into the
// request shape. It returns nil options when no filters are configured.
func BuildRequestOptions(cfg Config) (*RequestOptions, error) {
	if len(cfg.Filters) == 0 {
		return nil, nil
	}

	filters := make([]Filter, 0, len(cfg.Filters))
	for i, f := range cfg.Filters {
		if f.USBVendorID == nil && f.USBProductID == nil {
			return nil, NewError(InvalidFilterOptions,
				fmt.Sprintf("filter %d: must specify usbVendorId or usbProductId", i), nil)
		}
		if f.USBVendorID != nil && !validUSBID(*f.USBVendorID) {
			return nil, NewError(InvalidFilterOptions,
				fmt.Sprintf("filter %d: invalid usbVendorId %d, must be in [0, 65535]", i, *f.USBVendorID), nil)
		}
		if f.USBProductID != nil && !validUSBID(*f.USBProductID) {
			return nil, NewError(InvalidFilterOptions,
				fmt.Sprintf("filter %d: invalid usbProductId %d, must be in [0, 65535]", i, *f.USBProductID), nil)
		}
		filters = append(filters, f)
	}

	return &RequestOptions{Filters: filters}, nil
}

// ParseUSBID parses a hexadecimal USB id such as "2341" or "0x2341".
func ParseUSBID(s string) (int, error) {
	hex := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	id, err := strconv.ParseUint(hex, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB id %q", s)
	}
	return int(id), nil
}

func validUSBID(id int) bool {
	return id >= 0 && id <= maxUSBID
}

// Matches reports whether info satisfies at least one filter. Nil options
// match everything.
func (o *RequestOptions) Matches(info PortInfo) bool {
	if o == nil || len(o.Filters) == 0 {
		return true
	}
	for _, f := range o.Filters {
		if f.matches(info) {
			return true
		}
	}
	return false
}

func (f Filter) matches(info PortInfo) bool {
	if f.USBVendorID != nil && (info.USBVendorID == nil || *info.USBVendorID != *f.USBVendorID) {
		return false
	}
	if f.USBProductID != nil && (info.USBProductID == nil || *info.USBProductID != *f.USBProductID) {
		return false
	}
	return true
}
