package ldap

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// User is the normalized profile of one directory entry. It is rebuilt on
// every call and never cached.
type User struct {
	DN          string
	Username    string
	Email       string
	DisplayName string
	Groups      []string // directory order, duplicates kept

	// Active Directory only; empty elsewhere.
	ObjectSID  string
	ObjectGUID string
	Disabled   bool
}

// Schema lists, per profile field, the attribute aliases to try in priority
// order. The first non-empty value wins.
type Schema struct {
	Username    []string
	DisplayName []string
	Email       []string
	Groups      []string
}

// DefaultSchema covers RFC 2798 inetOrgPerson and Active Directory.
func DefaultSchema() Schema {
	return Schema{
		Username:    []string{"uid", "sAMAccountName", "userPrincipalName", "cn"},
		DisplayName: []string{"displayName", "cn"},
		Email:       []string{"mail"},
		Groups:      []string{"memberOf"},
	}
}

const (
	attrObjectSID          = "objectSid"
	attrObjectGUID         = "objectGUID"
	attrUserAccountControl = "userAccountControl"

	// uacAccountDisable is the ACCOUNTDISABLE bit of userAccountControl.
	uacAccountDisable = 0x2
)

// Mapper fetches an entry and folds it into a User.
type Mapper struct {
	schema Schema
	attrs  []string
}

func NewMapper(schema Schema) *Mapper {
	var attrs []string
	for _, group := range [][]string{
		schema.Username,
		schema.DisplayName,
		schema.Email,
		schema.Groups,
		{attrObjectSID, attrObjectGUID, attrUserAccountControl},
	} {
		for _, a := range group {
			if !slices.Contains(attrs, a) {
				attrs = append(attrs, a)
			}
		}
	}
	return &Mapper{schema: schema, attrs: attrs}
}

// Attributes is the explicit allow-list requested from the directory.
func (m *Mapper) Attributes() []string {
	return slices.Clone(m.attrs)
}

// Fetch reads dn with a base-scope search. An entry that no longer exists is
// NotFound.
func (m *Mapper) Fetch(ctx context.Context, s *Session, dn string) (*User, error) {
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		"(objectClass=*)",
		m.Attributes(),
		nil,
	)

	result, err := s.Search(ctx, req)
	if err != nil {
		return nil, Translate("fetch", err)
	}
	if len(result.Entries) == 0 {
		return nil, newError("fetch", KindNotFound, "entry disappeared", nil)
	}

	return m.FromEntry(result.Entries[0]), nil
}

// FromEntry maps an entry without any I/O.
func (m *Mapper) FromEntry(entry *ldap.Entry) *User {
	user := &User{
		DN:          entry.DN,
		Username:    firstValue(entry, m.schema.Username),
		Email:       firstValue(entry, m.schema.Email),
		DisplayName: firstValue(entry, m.schema.DisplayName),
	}

	for _, alias := range m.schema.Groups {
		if values := entry.GetEqualFoldAttributeValues(alias); len(values) > 0 {
			user.Groups = slices.Clone(values)
			break
		}
	}

	if raw := entry.GetEqualFoldRawAttributeValue(attrObjectSID); len(raw) > 0 {
		if sid, err := decodeSID(raw); err == nil {
			user.ObjectSID = sid
		}
	}
	if raw := entry.GetEqualFoldRawAttributeValue(attrObjectGUID); len(raw) > 0 {
		if guid, err := decodeGUID(raw); err == nil {
			user.ObjectGUID = guid.String()
		}
	}
	if uac := entry.GetEqualFoldAttributeValue(attrUserAccountControl); uac != "" {
		if flags, err := strconv.ParseInt(uac, 10, 64); err == nil {
			user.Disabled = flags&uacAccountDisable != 0
		}
	}

	return user
}

func firstValue(entry *ldap.Entry, aliases []string) string {
	for _, alias := range aliases {
		for _, v := range entry.GetEqualFoldAttributeValues(alias) {
			if v != "" {
				return v
			}
		}
	}
	return ""
}

// decodeSID renders a binary objectSid as S-1-5-21-....
func decodeSID(b []byte) (string, error) {
	// revision(1) + sub-authority count(1) + authority(6) + 4 bytes per sub-authority
	if len(b) < 8 || len(b) != 8+4*int(b[1]) {
		return "", fmt.Errorf("malformed SID of %d bytes", len(b))
	}
	return objectsid.Decode(b).String(), nil
}

// decodeGUID converts a binary objectGUID. Active Directory stores the first
// three fields little-endian.
func decodeGUID(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.Nil, fmt.Errorf("malformed GUID of %d bytes", len(b))
	}
	std := make([]byte, 16)
	std[0], std[1], std[2], std[3] = b[3], b[2], b[1], b[0]
	std[4], std[5] = b[5], b[4]
	std[6], std[7] = b[7], b[6]
	copy(std[8:], b[8:])
	return uuid.FromBytes(std)
}
