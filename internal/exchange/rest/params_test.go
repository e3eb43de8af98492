package rest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func orderParams() Params {
	return Params{}.
		With("currencyPair", "ltc_btc").
		With("rate", "0.01").
		With("amount", "10").
		With("orderType", "")
}

func TestCanonicalKeepsInsertionOrder(t *testing.T) {
	require.Equal(t, "currencyPair=ltc_btc&rate=0.01&amount=10&orderType=", orderParams().Canonical())
	require.Equal(t, "", Params{}.Canonical())
}

func TestEncodeEscapesValues(t *testing.T) {
	params := Params{}.With("orders_json", `[{"a":1}]`).With("currencyPair", "ltc_btc")
	require.Equal(t, "orders_json=%5B%7B%22a%22%3A1%7D%5D&currencyPair=ltc_btc", params.Encode())
}

func TestSignGolden(t *testing.T) {
	const want = "c8b29808a99a0337118e282654ab4407008f88cb73d91b845194292a30623a143d8fba1c1f534dda215e93b580d1809b6cf8f035957db997c2b095559aeb999e"
	require.Equal(t, want, Sign(orderParams(), "secret"))
}

func TestSignEmptyParams(t *testing.T) {
	const want = "b0e9650c5faf9cd8ae02276671545424104589b3656731ec193b25d01b07561c27637c2d4d68389d6cf5007a8632c26ec89ba80a01c77a6cdd389ec28db43901"
	require.Equal(t, want, Sign(nil, "secret"))
}

func TestSignDeterministic(t *testing.T) {
	require.Equal(t, Sign(orderParams(), "k"), Sign(orderParams(), "k"))
	require.NotEqual(t, Sign(orderParams(), "k"), Sign(orderParams(), "other"))
}

func TestSignOrderSensitive(t *testing.T) {
	reordered := Params{}.
		With("rate", "0.01").
		With("currencyPair", "ltc_btc").
		With("amount", "10").
		With("orderType", "")
	require.NotEqual(t, Sign(orderParams(), "secret"), Sign(reordered, "secret"))
}
