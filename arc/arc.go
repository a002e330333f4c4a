// Package arc builds the ARC path strings and disk-signature list the NT
// kernel uses as its pre-PnP disk identifier, per spec.md §6's "ARC path
// grammar" and §4.6's "ARC disk signature list (via the external disk
// enumerator)".
package arc

import (
	"fmt"

	"github.com/google/uuid"
)

// Path renders the conventional ARC path grammar:
// multi(0)disk(0)rdisk(<disk>)partition(<part>).
func Path(disk, partition int) string {
	return fmt.Sprintf("multi(0)disk(0)rdisk(%d)partition(%d)", disk, partition)
}

// DiskSignature is one entry of the ARC disk-signature list: the MBR
// signature or GPT disk GUID identifying a disk, paired with the ARC
// path string the same physical disk resolves to.
type DiskSignature struct {
	ArcName      string
	MBRSignature uint32 // 0 if the disk is GPT-partitioned
	GPTDiskID    uuid.UUID
	IsGPT        bool
	CheckSum     uint32 // NewMBRSignature sets this equal to MBRSignature; no partition-table checksum is computed
}

// NewMBRSignature builds a DiskSignature for an MBR disk.
func NewMBRSignature(arcName string, signature uint32) DiskSignature {
	return DiskSignature{ArcName: arcName, MBRSignature: signature, CheckSum: signature}
}

// NewGPTSignature builds a DiskSignature for a GPT disk, carrying id (the
// disk's GPT header DiskGUID) as given.
func NewGPTSignature(arcName string, id uuid.UUID) DiskSignature {
	return DiskSignature{ArcName: arcName, GPTDiskID: id, IsGPT: true}
}

// DiskEnumerator abstracts the firmware block-I/O enumeration spec.md
// §4.6 calls "the external disk enumerator": one call per disk found.
type DiskEnumerator interface {
	EnumerateDisks() ([]DiskSignature, error)
}
