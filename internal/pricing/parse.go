package pricing

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// FieldIssue records a price field that could not be coerced to a number.
type FieldIssue struct {
	Field string
	Raw   string
}

// MalformedPriceDataError reports price fields that the lenient decode path
// coerced away, or value combinations that render as nonsense (a manual
// discounted price above the original). The quote path stays permissive;
// this error exists so bad catalog records are observable rather than
// silently zeroed.
type MalformedPriceDataError struct {
	ProductID string
	Issues    []FieldIssue
}

func (e *MalformedPriceDataError) Error() string {
	fields := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		fields[i] = issue.Field
	}
	return "malformed price data for product " + e.ProductID + ": " + strings.Join(fields, ", ")
}

// ParseProduct decodes a single product object from JSON. Price fields may
// arrive as numbers or numeric strings; anything else is coerced to absent
// and recorded for Validate. Unknown keys are skipped.
func ParseProduct(data []byte) (Product, error) {
	d := jx.DecodeBytes(data)
	return DecodeProduct(d)
}

// DecodeProduct decodes a product object from the given decoder. It is the
// building block for both single-record parsing and catalog array decoding.
func DecodeProduct(d *jx.Decoder) (Product, error) {
	var p Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id", "_id":
			return decodeLooseString(d, &p.ID)
		case "name":
			return decodeLooseString(d, &p.Name)
		case "category":
			return decodeLooseString(d, &p.Category)
		case "image":
			return decodeLooseString(d, &p.Image)
		case "price":
			return p.decodePriceField(d, key, &p.Price)
		case "originalPrice":
			return p.decodePriceField(d, key, &p.OriginalPrice)
		case "discountedPrice":
			return p.decodePriceField(d, key, &p.DiscountedPrice)
		case "discount":
			return p.decodePriceField(d, key, &p.Discount)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Product{}, errors.Wrap(err, "decode product")
	}
	return p, nil
}

// Validate is the strict counterpart to the permissive quote path. It
// reports coercion failures from decoding, negative price fields, and
// manual-pricing records whose discounted price exceeds the original.
// A nil return means the record is numerically sound.
func (p *Product) Validate() error {
	issues := append([]FieldIssue(nil), p.issues...)

	for _, f := range []struct {
		name  string
		value *decimal.Decimal
	}{
		{"price", p.Price},
		{"originalPrice", p.OriginalPrice},
		{"discountedPrice", p.DiscountedPrice},
		{"discount", p.Discount},
	} {
		if f.value != nil && f.value.IsNegative() {
			issues = append(issues, FieldIssue{Field: f.name, Raw: f.value.String()})
		}
	}

	if manualPricing(p) && p.DiscountedPrice.GreaterThan(*p.OriginalPrice) {
		issues = append(issues, FieldIssue{
			Field: "discountedPrice",
			Raw:   p.DiscountedPrice.String() + " > originalPrice " + p.OriginalPrice.String(),
		})
	}

	if len(issues) == 0 {
		return nil
	}
	return &MalformedPriceDataError{ProductID: p.ID, Issues: issues}
}

// decodePriceField coerces a numeric-ish JSON value into a decimal. Numbers
// and numeric strings succeed; null means absent; anything else is skipped
// and recorded as an issue, leaving the field absent so the quote path falls
// back to its documented defaults.
func (p *Product) decodePriceField(d *jx.Decoder, key string, dst **decimal.Decimal) error {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			p.issues = append(p.issues, FieldIssue{Field: key, Raw: n.String()})
			return nil
		}
		*dst = &v
		return nil
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		v, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			p.issues = append(p.issues, FieldIssue{Field: key, Raw: s})
			return nil
		}
		*dst = &v
		return nil
	case jx.Null:
		return d.Null()
	default:
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		p.issues = append(p.issues, FieldIssue{Field: key, Raw: raw.String()})
		return nil
	}
}

// decodeLooseString accepts strings and numbers for identifier-ish fields;
// backends have been seen emitting numeric IDs.
func decodeLooseString(d *jx.Decoder, dst *string) error {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		*dst = s
		return nil
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		*dst = n.String()
		return nil
	case jx.Null:
		return d.Null()
	default:
		return d.Skip()
	}
}
