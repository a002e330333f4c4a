// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"crypto/x509"
	"encoding/binary"

	"github.com/pkg/errors"
	"go.mozilla.org/pkcs7"
)

// winCertificateHeaderSize is the size of the WIN_CERTIFICATE header every entry
// in the security data directory starts with: a uint32 total length
// (including this header), a uint16 revision, and a uint16 certificate
// type. The directory itself holds a file offset, not an RVA — unlike
// every other data directory, the certificate table is never mapped
// into the image's virtual address space.
const winCertificateHeaderSize = 8

// CertificateType is the WIN_CERTIFICATE wCertificateType field.
type CertificateType uint16

// WinCertTypePkcs7SignedData is the only certificate type this loader's
// catalog/Authenticode check understands: an embedded PKCS#7 SignedData
// blob.
const WinCertTypePkcs7SignedData CertificateType = 0x0002

// SignatureInfo reports the outcome of VerifyCatalog: whether the image
// carries an embedded Authenticode signature at all, whether it
// cryptographically verifies, and the signer chain if so.
type SignatureInfo struct {
	Present      bool
	Verified     bool
	Certificates []*x509.Certificate
}

// VerifyCatalog checks the image's embedded Authenticode signature. Load
// does not call it; it is a separate, optional check (spec.md §4.2:
// an image with no security directory is simply reported unsigned, never
// an error — most boot drivers and all of the HAL ship unsigned on
// development builds, and signature enforcement itself is a kernel-mode
// policy decision this loader only surfaces data for, never enforces).
func (img *Image) VerifyCatalog() (SignatureInfo, error) {
	dir := img.dataDirectory(ImageDirectoryEntrySecurity)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return SignatureInfo{}, nil
	}

	fileOffset := dir.VirtualAddress
	if uint64(fileOffset)+uint64(dir.Size) > uint64(img.size) {
		return SignatureInfo{}, errors.Wrap(ErrOutOfBounds, "security directory")
	}

	entry := img.data[fileOffset : fileOffset+dir.Size]
	if len(entry) < winCertificateHeaderSize {
		return SignatureInfo{}, errors.New("WIN_CERTIFICATE entry truncated")
	}

	certLen := binary.LittleEndian.Uint32(entry[0:4])
	certType := CertificateType(binary.LittleEndian.Uint16(entry[6:8]))
	if certType != WinCertTypePkcs7SignedData {
		return SignatureInfo{Present: true}, nil
	}
	if uint64(certLen) > uint64(len(entry)) || certLen < winCertificateHeaderSize {
		return SignatureInfo{}, errors.New("WIN_CERTIFICATE length field out of range")
	}

	signedData := entry[winCertificateHeaderSize:certLen]
	p7, err := pkcs7.Parse(signedData)
	if err != nil {
		return SignatureInfo{Present: true}, errors.Wrap(err, "parsing embedded PKCS#7 signature")
	}

	info := SignatureInfo{Present: true, Certificates: p7.Certificates}
	if err := p7.Verify(); err != nil {
		if img.logger != nil {
			img.logger.WithError(err).Warn("authenticode signature did not verify")
		}
		return info, nil
	}
	info.Verified = true
	return info, nil
}
