package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalManifest = `{
	"title": "T",
	"symbol": "T",
	"creatorRoyalty": 0,
	"nfts": [{"publicImage": "a.png", "privateData": "b.key", "attributes": []}]
}`

func validationErrors(t *testing.T, err error) ValidationErrors {
	t.Helper()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
	return verrs
}

func TestValidateMinimalManifest(t *testing.T) {
	m, err := Validate([]byte(minimalManifest), NewNames("a.png", "b.key", FileName))
	require.NoError(t, err)
	require.Equal(t, "T", m.Title)
	require.Equal(t, 1, m.CollectionSize())
	require.False(t, m.HasPublicMint())
	require.False(t, m.IsBlindBox())
	require.Equal(t, "b.key", m.NFTs[0].PrivateData)
}

func TestValidateRoyaltyOutOfRange(t *testing.T) {
	doc := `{"title":"T","symbol":"T","creatorRoyalty":25,"nfts":[{"publicImage":"a.png","privateData":"b.key"}]}`
	_, err := Validate([]byte(doc), NewNames("a.png", "b.key"))
	require.Equal(t, ValidationErrors{"manifest.creatorRoyalty must be <= 20"}, validationErrors(t, err))
}

func TestValidateAggregatesFileErrors(t *testing.T) {
	doc := `{
		"title": "T",
		"symbol": "T",
		"creatorRoyalty": 1,
		"nfts": [
			{"publicImage": "a.png", "privateData": "a.key"},
			{"publicImage": "a.png", "privateData": "b.key"},
			{"publicImage": "c.png", "privateData": "c.key"}
		]
	}`
	_, err := Validate([]byte(doc), NewNames("a.png", "a.key", "c.png"))
	require.Equal(t, ValidationErrors{
		"Missing: b.key.",
		"Missing: c.key.",
		"Duplicated: a.png.",
	}, validationErrors(t, err))
}

func TestValidateDuplicatePolicy(t *testing.T) {
	doc := func(policy string) []byte {
		return []byte(`{
			"title": "T",
			"symbol": "T",
			"creatorRoyalty": 1,
			"allowDuplicates": "` + policy + `",
			"nfts": [
				{"title": "one", "publicImage": "a.png", "privateData": "a.key"},
				{"title": "two", "publicImage": "a.png", "privateData": "a.key"}
			]
		}`)
	}
	files := NewNames("a.png", "a.key")

	_, err := Validate(doc("no"), files)
	require.Equal(t, ValidationErrors{"Duplicated: a.png.", "Duplicated: a.key."}, validationErrors(t, err))

	_, err = Validate(doc("public"), files)
	require.Equal(t, ValidationErrors{"Duplicated: a.key."}, validationErrors(t, err))

	_, err = Validate(doc("private"), files)
	require.Equal(t, ValidationErrors{"Duplicated: a.png."}, validationErrors(t, err))

	m, err := Validate(doc("yes"), files)
	require.NoError(t, err)
	require.Equal(t, AllowAllDuplicates, m.AllowDuplicates)

	_, err = Validate(doc("sometimes"), files)
	require.Equal(t, ValidationErrors{
		"manifest.allowDuplicates must be equal to one of the allowed values",
		"Duplicated: a.png.",
		"Duplicated: a.key.",
	}, validationErrors(t, err))
}

func TestValidateDuplicatesScopedByRole(t *testing.T) {
	doc := `{"title":"T","symbol":"T","creatorRoyalty":0,"nfts":[{"publicImage":"same","privateData":"same"}]}`
	_, err := Validate([]byte(doc), NewNames("same"))
	require.NoError(t, err)
}

func TestValidateSchemaViolations(t *testing.T) {
	doc := `{
		"symbol": "T",
		"creatorRoyalty": "high",
		"extra": true,
		"minting": {"premintPrice": 1.5, "maxPremintCount": -1, "mintPrice": 0},
		"nfts": [{"publicImage": "a.png", "owner": "nobody"}]
	}`
	_, err := Validate([]byte(doc), NewNames("a.png"))
	require.Equal(t, ValidationErrors{
		"manifest must NOT have additional properties",
		"manifest must have required property 'title'",
		"manifest.creatorRoyalty must be number",
		"manifest.minting must have required property 'maxMintCount'",
		"manifest.minting.maxPremintCount must be >= 0",
		"manifest.minting.premintPrice must be integer",
		"manifest.nfts.0 must have required property 'privateData'",
		`manifest.nfts.0.owner must match pattern "^0x[0-9a-fA-F]{40}$"`,
	}, validationErrors(t, err))
}

func TestValidateEmptyCollection(t *testing.T) {
	_, err := Validate([]byte(`{"title":"T","symbol":"T","creatorRoyalty":0,"nfts":[]}`), NewNames())
	require.Equal(t, ValidationErrors{"manifest.nfts must NOT have fewer than 1 items"}, validationErrors(t, err))
}

func TestValidateMalformedJSON(t *testing.T) {
	_, err := Validate([]byte(`{"title":`), NewNames())
	verrs := validationErrors(t, err)
	require.Len(t, verrs, 1)
	require.Contains(t, verrs[0], "Failed to load manifest.json")
}

func TestValidatePublicMint(t *testing.T) {
	doc := `{
		"title": "T",
		"symbol": "TT",
		"initialBaseUri": "https://example.com/box/",
		"creatorRoyalty": 2.5,
		"minting": {"premintPrice": 10, "maxPremintCount": 0, "mintPrice": 20, "maxMintCount": 3},
		"nfts": [{"title": "one", "publicImage": "a.png", "privateData": "b.key", "owner": "0x45708C2Ac90A671e2C642cA14002C6f9C0750057"}]
	}`
	m, err := Validate([]byte(doc), NewNames("a.png", "b.key"))
	require.NoError(t, err)
	require.True(t, m.HasPublicMint())
	require.True(t, m.IsBlindBox())
	require.EqualValues(t, 20, m.Minting.MintPrice)
	require.Equal(t, "one", m.NFTs[0].Title)
}

func TestValidateIntegralMintingNumbers(t *testing.T) {
	doc := `{
		"title": "T",
		"symbol": "T",
		"creatorRoyalty": 0,
		"minting": {"premintPrice": 0, "maxPremintCount": 0, "mintPrice": 5.0, "maxMintCount": 1e2},
		"nfts": [{"publicImage": "a.png", "privateData": "b.key"}]
	}`
	m, err := Validate([]byte(doc), NewNames("a.png", "b.key"))
	require.NoError(t, err)
	require.EqualValues(t, 5, m.Minting.MintPrice)
	require.EqualValues(t, 100, m.Minting.MaxMintCount)
}

func TestValidateMintingAmountOverflow(t *testing.T) {
	doc := `{
		"title": "T",
		"symbol": "T",
		"creatorRoyalty": 0,
		"minting": {"premintPrice": 1e20, "maxPremintCount": 0, "mintPrice": 0, "maxMintCount": 18446744073709551615},
		"nfts": [{"publicImage": "a.png", "privateData": "b.key"}]
	}`
	_, err := Validate([]byte(doc), NewNames("a.png", "b.key"))
	require.Equal(t, ValidationErrors{
		"manifest.minting.premintPrice must be <= 18446744073709551615",
	}, validationErrors(t, err))
}

func TestValidateOrdersErrorsByIndex(t *testing.T) {
	nfts := make([]string, 0, 11)
	for i := 0; i < 11; i++ {
		nfts = append(nfts, fmt.Sprintf(`{"publicImage": "p%d.png", "privateData": "k%d.key", "owner": 1}`, i, i))
	}
	doc := `{"title":"T","symbol":"T","creatorRoyalty":0,"nfts":[` + strings.Join(nfts, ",") + `]}`
	var names []string
	for i := 0; i < 11; i++ {
		names = append(names, fmt.Sprintf("p%d.png", i), fmt.Sprintf("k%d.key", i))
	}
	_, err := Validate([]byte(doc), NewNames(names...))
	verrs := validationErrors(t, err)
	require.Len(t, verrs, 11)
	require.Equal(t, "manifest.nfts.2.owner must be string", verrs[2])
	require.Equal(t, "manifest.nfts.10.owner must be string", verrs[10])
}

func TestUnmarshalMintingOptionsRejectsFraction(t *testing.T) {
	var o MintingOptions
	require.NoError(t, json.Unmarshal([]byte(`{"mintPrice": 1.0e1, "maxMintCount": 3}`), &o))
	require.EqualValues(t, 10, o.MintPrice)
	require.Error(t, json.Unmarshal([]byte(`{"mintPrice": 1.5}`), &o))
	require.Error(t, json.Unmarshal([]byte(`{"mintPrice": -1}`), &o))
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{"a"}.Appending("b")
	require.Equal(t, "validation failed: a; b", errs.Error())
	require.Equal(t, "validation failed: a", ValidationErrors{"a"}.Error())
}
