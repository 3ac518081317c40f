// Package contracts holds the fixed ABIs of the contracts the relay talks to.
// Method and event names are part of the wire contract with the deployed
// bridges and must not change.
package contracts

import (
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

// ERC721InterfaceID is the ERC-165 identifier of ERC-721.
var ERC721InterfaceID = [4]byte{0x80, 0xac, 0x58, 0xcd}

// Names of the methods and events used by the relay.
const (
	MethodSupportsInterface   = "supportsInterface"
	MethodOwnerOf             = "ownerOf"
	MethodTokenURI            = "tokenURI"
	MethodSafeTransferFrom    = "safeTransferFrom"
	MethodPremintFor          = "premintFor"
	MethodMintedTokens        = "mintedTokens"
	MethodSetTokenURI         = "setTokenUri"
	MethodMigrateToIOU        = "migrateToERC721IOU"
	MethodRegisterSignature   = "registerEscrowHashSignature"
	MethodMigrateFromIOU      = "migrateFromIOUERC721ToERC721"
	MethodProofOfEscrowHash   = "getProofOfEscrowHash"
	EventTransfer             = "Transfer"
	EventDeparturePreRegister = "MigrationDeparturePreRegisteredERC721IOU"
)

// ERC165MetaData contains the ERC-165 interface detection ABI.
var ERC165MetaData = &bind.MetaData{
	ABI: `[
{"inputs":[{"internalType":"bytes4","name":"interfaceId","type":"bytes4"}],"name":"supportsInterface","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`,
}

// ERC721MetaData contains the subset of ERC-721 used by the relay.
var ERC721MetaData = &bind.MetaData{
	ABI: `[
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"from","type":"address"},{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"Transfer","type":"event"},
{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"from","type":"address"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"safeTransferFrom","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`,
}

// ERC721IOUMetaData contains the IOU world ABI: ERC-721 plus premint and URI management.
var ERC721IOUMetaData = &bind.MetaData{
	ABI: `[
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"from","type":"address"},{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"Transfer","type":"event"},
{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"_bridge","type":"address"}],"name":"premintFor","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"mintedTokens","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"_tokenId","type":"uint256"},{"internalType":"string","name":"_tokenUri","type":"string"}],"name":"setTokenUri","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`,
}

// BridgeMetaData contains the departure and arrival bridge ABI.
var BridgeMetaData = &bind.MetaData{
	ABI: `[
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"_originWorld","type":"address"},{"indexed":true,"internalType":"uint256","name":"_originTokenId","type":"uint256"},{"indexed":false,"internalType":"bytes32","name":"_destinationUniverse","type":"bytes32"},{"indexed":false,"internalType":"bytes32","name":"_destinationBridge","type":"bytes32"},{"indexed":false,"internalType":"bytes32","name":"_destinationWorld","type":"bytes32"},{"indexed":false,"internalType":"bytes32","name":"_destinationTokenId","type":"bytes32"},{"indexed":false,"internalType":"bytes32","name":"_destinationOwner","type":"bytes32"},{"indexed":true,"internalType":"bytes32","name":"_signee","type":"bytes32"},{"indexed":false,"internalType":"bytes32","name":"_migrationHash","type":"bytes32"}],"name":"MigrationDeparturePreRegisteredERC721IOU","type":"event"},
{"inputs":[{"internalType":"address","name":"_originWorld","type":"address"},{"internalType":"uint256","name":"_originTokenId","type":"uint256"},{"internalType":"bytes32","name":"_destinationUniverse","type":"bytes32"},{"internalType":"bytes32","name":"_destinationBridge","type":"bytes32"},{"internalType":"bytes32","name":"_destinationWorld","type":"bytes32"},{"internalType":"bytes32","name":"_destinationTokenId","type":"bytes32"},{"internalType":"bytes32","name":"_destinationOwner","type":"bytes32"},{"internalType":"bytes32","name":"_signee","type":"bytes32"}],"name":"migrateToERC721IOU","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"_migrationHash","type":"bytes32"},{"internalType":"bytes","name":"_escrowHashSigned","type":"bytes"}],"name":"registerEscrowHashSignature","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"_originUniverse","type":"bytes32"},{"internalType":"bytes32","name":"_originBridge","type":"bytes32"},{"internalType":"bytes32","name":"_originWorld","type":"bytes32"},{"internalType":"bytes32","name":"_originTokenId","type":"bytes32"},{"internalType":"bytes32","name":"_originOwner","type":"bytes32"},{"internalType":"address","name":"_destinationWorld","type":"address"},{"internalType":"uint256","name":"_destinationTokenId","type":"uint256"},{"internalType":"address","name":"_destinationOwner","type":"address"},{"internalType":"address","name":"_signee","type":"address"},{"internalType":"bytes32","name":"_originBlockTimestamp","type":"bytes32"},{"internalType":"bytes","name":"_migrationHashSigned","type":"bytes"}],"name":"migrateFromIOUERC721ToERC721","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"_migrationHash","type":"bytes32"}],"name":"getProofOfEscrowHash","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"}
]`,
}
