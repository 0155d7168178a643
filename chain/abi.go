package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const nftABIJSON = `[
  {"type":"constructor","inputs":[
    {"name":"name","type":"string"},
    {"name":"symbol","type":"string"},
    {"name":"baseUri","type":"string"},
    {"name":"revenueShare","type":"address"},
    {"name":"collectionSize","type":"uint256"},
    {"name":"premintPrice","type":"uint256"},
    {"name":"maxPremintCount","type":"uint256"},
    {"name":"mintPrice","type":"uint256"},
    {"name":"maxMintCount","type":"uint256"},
    {"name":"royaltyNumerator","type":"uint256"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"baseURI","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
  {"type":"function","name":"totalSupply","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"ownerOf","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
  {"type":"function","name":"supportsInterface","inputs":[{"name":"interfaceId","type":"bytes4"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
  {"type":"function","name":"getParcelToken","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"setFinalBaseURI","inputs":[{"name":"baseUri","type":"string"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"mintTo","inputs":[{"name":"recipients","type":"address[]"},{"name":"counts","type":"uint256[]"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"safeTransferFromBatch","inputs":[{"name":"from","type":"address"},{"name":"recipients","type":"address[]"},{"name":"tokenIds","type":"uint256[]"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"setParcelTokens","inputs":[{"name":"tokenIds","type":"uint256[]"},{"name":"parcelTokens","type":"uint256[]"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const revenueShareABIJSON = `[
  {"type":"constructor","inputs":[
    {"name":"artist","type":"address"},
    {"name":"facilitator","type":"address"},
    {"name":"mintFeeNumerator","type":"uint256"},
    {"name":"royaltyFeeNumerator","type":"uint256"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"release","inputs":[{"name":"account","type":"address"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const bridgeAdapterABIJSON = `[
  {"type":"function","name":"unlockERC721","inputs":[
    {"name":"owner","type":"address"},
    {"name":"token","type":"address"},
    {"name":"tokenId","type":"uint256"},
    {"name":"data","type":"bytes"}],"outputs":[],"stateMutability":"nonpayable"}
]`

var (
	nftABI           = mustParseABI(nftABIJSON)
	revenueShareABI  = mustParseABI(revenueShareABIJSON)
	bridgeAdapterABI = mustParseABI(bridgeAdapterABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// Artifact is the subset of a Hardhat build artifact needed for deployment.
type Artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// Code returns the decoded creation bytecode.
func (a Artifact) Code() ([]byte, error) {
	if strings.TrimSpace(a.Bytecode) == "" || a.Bytecode == "0x" {
		return nil, fmt.Errorf("chain: artifact %s has no bytecode", a.ContractName)
	}
	code, err := hexutil.Decode(a.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("chain: decode %s bytecode: %w", a.ContractName, err)
	}
	return code, nil
}

// LoadArtifact reads a Hardhat artifact JSON file.
func LoadArtifact(path string) (Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("chain: read artifact: %w", err)
	}
	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("chain: decode artifact %s: %w", path, err)
	}
	if _, err := artifact.Code(); err != nil {
		return Artifact{}, err
	}
	return artifact, nil
}
