package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix = []byte("balance:")
	rolePrefix    = []byte("role:")

	loanParamsKey      = []byte("loans/params")
	loanPriceKey       = []byte("loans/price")
	loanPausedKey      = []byte("loans/paused")
	loanNextIDKey      = []byte("loans/next-id")
	loanIndexKey       = []byte("loans/ids")
	loanTotalsKey      = []byte("loans/totals")
	loanLiquidatingKey = []byte("loans/liquidating")
	loanInterestKey    = []byte("loans/interest")
	loanRecordPrefix   = []byte("loans/record/")
	loanOwnerPrefix    = []byte("loans/owner/")
)

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return ethcrypto.Keccak256(buf)
}

func roleKey(role string) []byte {
	buf := make([]byte, len(rolePrefix)+len(role))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	return ethcrypto.Keccak256(buf)
}

// LoanRecordKey returns the unhashed key of a loan record.
func LoanRecordKey(id uint64) []byte {
	buf := make([]byte, len(loanRecordPrefix)+8)
	copy(buf, loanRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(loanRecordPrefix):], id)
	return buf
}

// LoanOwnerKey returns the unhashed key of an owner's loan index.
func LoanOwnerKey(owner []byte) []byte {
	buf := make([]byte, len(loanOwnerPrefix)+len(owner))
	copy(buf, loanOwnerPrefix)
	copy(buf[len(loanOwnerPrefix):], owner)
	return buf
}
