package escrow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"parcelmint/chain"
)

// IdentityProofMessage is signed to prove control of the linked address.
const IdentityProofMessage = "parcel.createIdentity"

// GetOrCreateIdentity returns the caller's identity, creating one linked to
// signer when the service reports none exists.
func GetOrCreateIdentity(ctx context.Context, svc Service, signer chain.Signer) (*Identity, error) {
	identity, err := svc.GetCurrentIdentity(ctx)
	if err == nil {
		return identity, nil
	}
	if !IsNotFound(err) {
		return nil, fmt.Errorf("failed to fetch Parcel identity: %w", err)
	}

	proof, err := signer.SignMessage(ctx, IdentityProofMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parcel identity: %w", err)
	}
	identity, err = svc.CreateIdentity(ctx, CreateIdentityParams{
		EthAddress: signer.Address().Hex(),
		Proof:      hexutil.Encode(proof),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Parcel identity: %w", err)
	}
	return identity, nil
}
