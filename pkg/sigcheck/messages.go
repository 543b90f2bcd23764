package sigcheck

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Message purposes. Each schema gets its own tag so a signature for one
// operation can never be replayed against another.
const (
	purposeDelegatedRegistration = "delegated-registration"
	purposeWalletProof           = "wallet-proof"
	purposeSessionLogin          = "session-login"
)

func uint64Field(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// DelegatedRegistration binds (agentAddress, uri, deadline): the owner's
// authorization for agentAddress to register an agent with the given uri on
// the owner's behalf. The agent address is a message field, so only that
// exact caller can submit the signature.
func DelegatedRegistration(agentAddress common.Address, uri string, deadline time.Time) Message {
	return Message{
		Purpose:  purposeDelegatedRegistration,
		Fields:   [][]byte{agentAddress.Bytes(), []byte(uri)},
		Deadline: deadline,
	}
}

// WalletProof binds (agentID, wallet, deadline): proof that the wallet
// address itself consents to becoming the payment destination of the agent.
func WalletProof(agentID uint64, wallet common.Address, deadline time.Time) Message {
	return Message{
		Purpose:  purposeWalletProof,
		Fields:   [][]byte{uint64Field(agentID), wallet.Bytes()},
		Deadline: deadline,
	}
}

// SessionLogin binds (address, nonce, deadline): proof of address control
// presented to the HTTP API in exchange for a session token.
func SessionLogin(address common.Address, nonce string, deadline time.Time) Message {
	return Message{
		Purpose:  purposeSessionLogin,
		Fields:   [][]byte{address.Bytes(), []byte(nonce)},
		Deadline: deadline,
	}
}
