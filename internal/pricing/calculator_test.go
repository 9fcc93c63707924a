package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func item(qty, price, vat string) LineItem {
	return LineItem{
		Description: "work",
		Quantity:    d(qty),
		UnitPrice:   d(price),
		VATRate:     d(vat),
		ItemType:    ItemLabour,
	}
}

func TestQuoteTotalsDepositScenario(t *testing.T) {
	items := []LineItem{item("1", "1000", "0")}
	cfg := Config{
		VATRate: d("20"),
		Deposit: Adjustment{Type: AdjustPercent, Value: d("30")},
	}

	totals := QuoteTotals(items, cfg)
	require.Equal(t, "1000.00", totals.Subtotal.StringFixed(2))
	require.Equal(t, "200.00", totals.VATAmount.StringFixed(2))
	require.Equal(t, "1200.00", totals.Total.StringFixed(2))
	require.NotNil(t, totals.DepositAmount)
	require.Equal(t, "360.00", totals.DepositAmount.StringFixed(2))
}

func TestQuoteTotalsMarkupBeforeDiscount(t *testing.T) {
	items := []LineItem{item("2", "50", "0")}
	cfg := Config{
		VATRate:  d("20"),
		Markup:   Adjustment{Type: AdjustPercent, Value: d("10")},
		Discount: Adjustment{Type: AdjustFixed, Value: d("10")},
	}

	totals := QuoteTotals(items, cfg)
	// 100 + 10 markup - 10 discount = 100 taxable, 20 VAT.
	require.Equal(t, "10.00", totals.MarkupAmount.StringFixed(2))
	require.Equal(t, "10.00", totals.DiscountAmount.StringFixed(2))
	require.Equal(t, "20.00", totals.VATAmount.StringFixed(2))
	require.Equal(t, "120.00", totals.Total.StringFixed(2))
}

func TestQuoteTotalsDiscountClampedToZero(t *testing.T) {
	items := []LineItem{item("1", "40", "0")}
	cfg := Config{
		VATRate:  d("20"),
		Discount: Adjustment{Type: AdjustFixed, Value: d("100")},
	}

	totals := QuoteTotals(items, cfg)
	require.Equal(t, "40.00", totals.DiscountAmount.StringFixed(2))
	require.True(t, totals.VATAmount.IsZero())
	require.True(t, totals.Total.IsZero())
}

func TestQuoteTotalsNoDepositIsNil(t *testing.T) {
	totals := QuoteTotals([]LineItem{item("1", "100", "0")}, Config{VATRate: d("20")})
	require.Nil(t, totals.DepositAmount)
}

func TestInvoiceTotalsPerLineVAT(t *testing.T) {
	items := []LineItem{
		item("1", "100", "20"),
		item("1", "100", "5"),
		item("1", "100", "0"),
	}
	cfg := Config{VATRate: d("20")} // document rate must not win on the invoice path

	totals := InvoiceTotals(items, cfg, decimal.Zero)
	require.Equal(t, "300.00", totals.Subtotal.StringFixed(2))
	require.Equal(t, "25.00", totals.VATAmount.StringFixed(2))
	require.Equal(t, "325.00", totals.Total.StringFixed(2))
	require.Equal(t, "325.00", totals.BalanceDue.StringFixed(2))
}

func TestInvoiceTotalsBalanceFloorsDisplayOnly(t *testing.T) {
	items := []LineItem{item("1", "100", "0")}
	totals := InvoiceTotals(items, Config{}, d("150"))
	require.Equal(t, "0.00", totals.BalanceDue.StringFixed(2))
	require.Equal(t, "-50.00", totals.RawBalance.StringFixed(2))
}

func TestTotalsIdempotent(t *testing.T) {
	items := []LineItem{
		item("3.5", "19.99", "20"),
		item("0.25", "1200", "5"),
	}
	cfg := Config{
		VATRate:  d("20"),
		Markup:   Adjustment{Type: AdjustPercent, Value: d("12.5")},
		Discount: Adjustment{Type: AdjustPercent, Value: d("3")},
		Deposit:  Adjustment{Type: AdjustFixed, Value: d("100")},
	}

	a := QuoteTotals(items, cfg)
	b := QuoteTotals(items, cfg)
	require.Equal(t, a.Total.String(), b.Total.String())
	require.Equal(t, a.VATAmount.String(), b.VATAmount.String())
	require.Equal(t, a.DepositAmount.String(), b.DepositAmount.String())

	x := InvoiceTotals(items, cfg, d("10.01"))
	y := InvoiceTotals(items, cfg, d("10.01"))
	require.Equal(t, x.RawBalance.String(), y.RawBalance.String())
}

func TestValidateItem(t *testing.T) {
	require.NoError(t, ValidateItem(item("1", "0", "0")))

	bad := item("0", "10", "0")
	require.ErrorIs(t, ValidateItem(bad), ErrQuantityNotPositive)

	bad = item("1", "-1", "0")
	require.ErrorIs(t, ValidateItem(bad), ErrNegativeUnitPrice)

	bad = item("1", "10", "101")
	require.ErrorIs(t, ValidateItem(bad), ErrVATRateOutOfRange)

	bad = item("1", "10", "20")
	bad.ItemType = "plant"
	require.ErrorIs(t, ValidateItem(bad), ErrUnknownItemType)
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(Config{VATRate: d("20")}))

	err := ValidateConfig(Config{VATRate: d("120")})
	require.ErrorIs(t, err, ErrVATRateOutOfRange)

	err = ValidateConfig(Config{Discount: Adjustment{Type: "half", Value: d("1")}})
	require.ErrorIs(t, err, ErrUnknownAdjustment)

	err = ValidateConfig(Config{Markup: Adjustment{Type: AdjustFixed, Value: d("-5")}})
	require.ErrorIs(t, err, ErrNegativeAdjustment)
}
