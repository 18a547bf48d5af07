// Copyright 2025 Certen Protocol
//
// Minimal ABI fragments for the Hub, Forwarder, and Token contracts,
// covering exactly the functions and events this validator node needs.
// Full contract ABIs are far larger; only the surface the node touches
// is declared here.

package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const hubABIJSON = `[
  {"type":"event","name":"TransferFromSucceeded","inputs":[
    {"name":"sourceTransferId","type":"uint256","indexed":true},
    {"name":"sender","type":"address","indexed":false},
    {"name":"recipient","type":"string","indexed":false},
    {"name":"sourceToken","type":"address","indexed":false},
    {"name":"destinationBlockchainId","type":"uint256","indexed":false},
    {"name":"destinationToken","type":"string","indexed":false},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"fee","type":"uint256","indexed":false},
    {"name":"serviceNode","type":"address","indexed":false}
  ]},
  {"type":"event","name":"TransferToSucceeded","inputs":[
    {"name":"destinationTransferId","type":"uint256","indexed":true},
    {"name":"sourceBlockchainId","type":"uint256","indexed":false},
    {"name":"sourceTransferId","type":"uint256","indexed":false},
    {"name":"recipient","type":"address","indexed":false}
  ]},
  {"type":"function","name":"verifyTransferTo","stateMutability":"view","inputs":[
    {"name":"sourceBlockchainId","type":"uint256"},
    {"name":"sourceTransactionId","type":"string"},
    {"name":"sourceTransferId","type":"uint256"},
    {"name":"nonce","type":"uint256"}
  ],"outputs":[{"name":"ok","type":"bool"}]},
  {"type":"function","name":"isValidValidatorNodeNonce","stateMutability":"view","inputs":[
    {"name":"nonce","type":"uint256"}
  ],"outputs":[{"name":"valid","type":"bool"}]},
  {"type":"function","name":"getProtocolVersion","stateMutability":"view","inputs":[],"outputs":[{"name":"version","type":"string"}]},
  {"type":"function","name":"isTokenActive","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"active","type":"bool"}]}
]`

const forwarderABIJSON = `[
  {"type":"function","name":"transferTo","stateMutability":"nonpayable","inputs":[
    {"name":"request","type":"tuple","components":[
      {"name":"sourceBlockchainId","type":"uint256"},
      {"name":"sourceTransferId","type":"uint256"},
      {"name":"sourceTransactionId","type":"string"},
      {"name":"sender","type":"string"},
      {"name":"recipient","type":"address"},
      {"name":"sourceToken","type":"string"},
      {"name":"destinationToken","type":"address"},
      {"name":"amount","type":"uint256"},
      {"name":"nonce","type":"uint256"}
    ]},
    {"name":"signerAddresses","type":"address[]"},
    {"name":"signatures","type":"bytes[]"}
  ],"outputs":[]},
  {"type":"function","name":"getValidatorNodes","stateMutability":"view","inputs":[],"outputs":[{"name":"nodes","type":"address[]"}]},
  {"type":"function","name":"getMinimumValidatorNodeSignatures","stateMutability":"view","inputs":[],"outputs":[{"name":"minimum","type":"uint256"}]}
]`

const tokenABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"decimals","type":"uint8"}]},
  {"type":"function","name":"getExternalToken","stateMutability":"view","inputs":[{"name":"destinationBlockchainId","type":"uint256"}],"outputs":[
    {"name":"externalToken","type":"string"},
    {"name":"active","type":"bool"}
  ]}
]`

var (
	hubABI       abi.ABI
	forwarderABI abi.ABI
	tokenABI     abi.ABI
)

func init() {
	var err error
	hubABI, err = abi.JSON(strings.NewReader(hubABIJSON))
	if err != nil {
		panic("evm: invalid hub ABI: " + err.Error())
	}
	forwarderABI, err = abi.JSON(strings.NewReader(forwarderABIJSON))
	if err != nil {
		panic("evm: invalid forwarder ABI: " + err.Error())
	}
	tokenABI, err = abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic("evm: invalid token ABI: " + err.Error())
	}
}

// transferToFunctionSelector is the 4-byte selector of the Forwarder's
// transferTo function. Nothing in this package reads it.
var transferToFunctionSelector = forwarderABI.Methods["transferTo"].ID

const (
	revertReasonNonMatchingForwarder       = "PANTOS_HUB: caller is not the forwarder"
	revertReasonSourceTransferIDAlreadyUsed = "PANTOS_HUB: source transfer ID already used"
)

const (
	hubTransferToBaseGas     uint64 = 150000
	hubTransferToGasPerSigner uint64 = 100000
)
