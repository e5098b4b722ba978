package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

// Fixed-offset header layout (all integers big-endian):
//
//	[0]      version
//	[1]      revoked flag
//	[2]      revoke reason code
//	[3:11]   createdAt
//	[11:19]  expiresAt
//	[19:27]  revokedAt
//	[27:35]  rev (revocation counter snapshot)
//	[35:67]  refresh hash (32 bytes)
//	[67:]    userIDLen(1) userID roleLen(1) role
//
// The rotation and revocation Lua scripts depend on these offsets; any
// layout change requires a new version byte and script update.
const sessionFixedHeaderSize = 67

func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	if s.Revoked {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(byte(s.RevokeReason))

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.RevokedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.Rev); err != nil {
		return nil, err
	}
	buf.Write(s.RefreshHash[:])

	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	if len(s.Role) > 255 {
		return nil, errors.New("role too long")
	}
	buf.WriteByte(byte(len(s.Role)))
	buf.WriteString(s.Role)

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	if len(data) < sessionFixedHeaderSize+2 {
		return nil, errors.New("session blob too short")
	}

	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session format version")
	}

	revoked, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	reason, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		Revoked:      revoked == 1,
		RevokeReason: RevokeReason(reason),
	}

	if err := binary.Read(reader, binary.BigEndian, &sess.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &sess.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &sess.RevokedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &sess.Rev); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, sess.RefreshHash[:]); err != nil {
		return nil, err
	}

	userID, err := readLenPrefixed(reader)
	if err != nil {
		return nil, err
	}
	sess.UserID = userID

	role, err := readLenPrefixed(reader)
	if err != nil {
		return nil, err
	}
	sess.Role = role

	return sess, nil
}

func readLenPrefixed(reader *bytes.Reader) (string, error) {
	length, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
