package helper

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

const brazilCountryCode = "55"

var (
	nonDigit = regexp.MustCompile(`\D`)

	ErrEmptyAddress = errors.New("address has no digits")
)

// FormatPhoneNumber converts a human-entered phone number into a WhatsApp user JID.
//
// Brazilian numbers (55 + area code + local) with an area code up to 30 and an
// 8-digit local part get the mobile prefix 9 inserted. Anything else keeps its
// digits unchanged. The result is always a well-formed JID; numbers WhatsApp does
// not know are rejected later when sending.
func FormatPhoneNumber(phone string) types.JID {
	digits := nonDigit.ReplaceAllString(phone, "")

	if strings.HasPrefix(digits, brazilCountryCode) && len(digits) >= 4 {
		areaCode := digits[2:4]
		local := digits[4:]
		if area, err := strconv.Atoi(areaCode); err == nil && area <= 30 && len(local) == 8 {
			digits = brazilCountryCode + areaCode + "9" + local
		}
	}

	return types.NewJID(digits, types.DefaultUserServer)
}

// ParseAddress accepts either a full JID ("123@g.us") or a phone number.
func ParseAddress(address string) (types.JID, error) {
	address = strings.TrimSpace(address)
	if strings.Contains(address, "@") {
		jid, err := types.ParseJID(address)
		if err != nil {
			return types.JID{}, err
		}
		if jid.User == "" {
			return types.JID{}, ErrEmptyAddress
		}
		return jid, nil
	}

	jid := FormatPhoneNumber(address)
	if jid.User == "" {
		return types.JID{}, ErrEmptyAddress
	}
	return jid, nil
}

// IsGroupJID reports whether the address belongs to the group namespace.
func IsGroupJID(jid types.JID) bool {
	return jid.Server == types.GroupServer
}

// PhoneOf returns the phone number behind a user address, or "" for groups
// and other namespaces.
func PhoneOf(jid types.JID) string {
	if jid.Server != types.DefaultUserServer {
		return ""
	}
	return jid.User
}
