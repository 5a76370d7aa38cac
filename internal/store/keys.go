package store

import "fmt"

// Keys builds the two key namespaces used per community member:
//
//	<prefix>invites_<community>_<member>    ledger entries
//	<prefix>invitedBy_<community>_<member>  recorded inviter
type Keys struct {
	Prefix string
}

func (k Keys) Ledger(communityID, memberID string) string {
	return fmt.Sprintf("%sinvites_%s_%s", k.Prefix, communityID, memberID)
}

func (k Keys) Credit(communityID, memberID string) string {
	return fmt.Sprintf("%sinvitedBy_%s_%s", k.Prefix, communityID, memberID)
}
