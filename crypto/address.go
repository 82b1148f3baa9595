package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of a bech32 address.
type AddressPrefix string

const (
	// AccountPrefix is used for externally owned borrower and operator accounts.
	AccountPrefix AddressPrefix = "loan"
	// ModulePrefix is used for accounts derived from a module name, such as the
	// custodial pool or the profit pool.
	ModulePrefix AddressPrefix = "loanmod"
)

// AddressLength is the size in bytes of every account address.
const AddressLength = 20

// Address is a 20-byte account identifier rendered with a bech32 prefix. The
// zero value is the empty address. Addresses are comparable and can be used as
// map keys.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress builds an address from exactly AddressLength bytes.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	if strings.TrimSpace(string(prefix)) == "" {
		return Address{}, fmt.Errorf("address prefix must not be empty")
	}
	var addr Address
	addr.prefix = prefix
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustNewAddress is like NewAddress but panics on malformed input.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// ModuleAddress derives the deterministic account owned by a named module.
func ModuleAddress(name string) Address {
	digest := crypto.Keccak256([]byte("module/" + strings.ToLower(strings.TrimSpace(name))))
	return MustNewAddress(ModulePrefix, digest[len(digest)-AddressLength:])
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	trimmed := strings.TrimSpace(string(text))
	if trimmed == "" {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(trimmed)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}
