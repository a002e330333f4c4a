package loaderblock

import "testing"

func TestLookupVersionPicksExactRevision(t *testing.T) {
	entry, ok := lookupVersion(VersionKey{Major: 10, Build: 17763})
	if !ok {
		t.Fatal("lookupVersion: not found")
	}
	if entry.name != "RS5 (1809)" {
		t.Fatalf("entry = %q, want RS5 (1809)", entry.name)
	}
	if entry.maxEntropySources != 10 {
		t.Fatalf("maxEntropySources = %d, want 10", entry.maxEntropySources)
	}
}

func TestLookupVersionFallsBackToNearestOlderBuild(t *testing.T) {
	// A point release between two table entries (e.g. 1803 + a late patch
	// build) must resolve to the nearest not-newer entry, not fail.
	entry, ok := lookupVersion(VersionKey{Major: 10, Build: 17700})
	if !ok {
		t.Fatal("lookupVersion: not found")
	}
	if entry.name != "RS4 (1803)" {
		t.Fatalf("entry = %q, want RS4 (1803)", entry.name)
	}
}

func TestLookupVersionDistinguishesWin81SubRevision(t *testing.T) {
	// spec.md §8 scenario 5: same (major, build), different revision ->
	// different extension size.
	pre, ok := lookupVersion(VersionKey{Major: 6, Build: 9600, Revision: 17000})
	if !ok {
		t.Fatal("lookupVersion: not found for revision 17000")
	}
	if pre.extensionSize != 0x3e0 {
		t.Fatalf("pre-18438 extensionSize = %#x, want 0x3e0", pre.extensionSize)
	}

	post, ok := lookupVersion(VersionKey{Major: 6, Build: 9600, Revision: 19000})
	if !ok {
		t.Fatal("lookupVersion: not found for revision 19000")
	}
	if post.extensionSize != 0x3f0 {
		t.Fatalf("post-18438 extensionSize = %#x, want 0x3f0", post.extensionSize)
	}

	exact, ok := lookupVersion(VersionKey{Major: 6, Build: 9600, Revision: 18438})
	if !ok {
		t.Fatal("lookupVersion: not found for revision 18438")
	}
	if exact.extensionSize != 0x3f0 {
		t.Fatalf("revision-18438-exact extensionSize = %#x, want 0x3f0 (boundary is inclusive)", exact.extensionSize)
	}

	noRevision, ok := lookupVersion(VersionKey{Major: 6, Build: 9600})
	if !ok {
		t.Fatal("lookupVersion: not found with Revision left unset")
	}
	if noRevision.extensionSize != 0x3e0 {
		t.Fatalf("Revision-unset extensionSize = %#x, want 0x3e0 (baseline)", noRevision.extensionSize)
	}
}

func TestAssembleAppliesSubRevisionExtensionSize(t *testing.T) {
	pre, err := Assemble(BuildInput{Version: VersionKey{Major: 6, Build: 9600, Revision: 17000}})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	post, err := Assemble(BuildInput{Version: VersionKey{Major: 6, Build: 9600, Revision: 19000}})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if pre.ExtensionSize == post.ExtensionSize {
		t.Fatalf("ExtensionSize did not vary by revision: both %#x", pre.ExtensionSize)
	}
}

func TestLookupVersionRejectsUnknownMajor(t *testing.T) {
	if _, ok := lookupVersion(VersionKey{Major: 4, Build: 1381}); ok {
		t.Fatal("lookupVersion found a layout for an NT4-era version, want none")
	}
}

func TestAssembleGatesApiSetSchemaByCapability(t *testing.T) {
	in := BuildInput{
		Version:          VersionKey{Major: 10, Build: 17763},
		ApiSetSchemaVA:   0xfffff80012340000,
		ApiSetSchemaSize: 0x2000,
	}
	block, err := Assemble(in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if block.ApiSetSchemaVA != in.ApiSetSchemaVA {
		t.Fatalf("ApiSetSchemaVA = %#x, want %#x", block.ApiSetSchemaVA, in.ApiSetSchemaVA)
	}

	win7 := BuildInput{
		Version:          VersionKey{Major: 6, Build: 7600},
		ApiSetSchemaVA:   0xfffff80012340000,
		ApiSetSchemaSize: 0x2000,
	}
	block7, err := Assemble(win7)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if block7.ApiSetSchemaVA != 0 {
		t.Fatalf("Win7 ApiSetSchemaVA = %#x, want 0 (no such field pre-8.1)", block7.ApiSetSchemaVA)
	}
}

func TestAssembleSetsExtraTSSCountOnlyOn1803Plus(t *testing.T) {
	block, err := Assemble(BuildInput{Version: VersionKey{Major: 10, Build: 17134}})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if block.ExtraTSSCount != 3 {
		t.Fatalf("ExtraTSSCount = %d, want 3", block.ExtraTSSCount)
	}

	older, err := Assemble(BuildInput{Version: VersionKey{Major: 10, Build: 15063}})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if older.ExtraTSSCount != 0 {
		t.Fatalf("ExtraTSSCount = %d, want 0 on 1703", older.ExtraTSSCount)
	}
}

func TestAssembleRejectsUnknownVersion(t *testing.T) {
	_, err := Assemble(BuildInput{Version: VersionKey{Major: 99, Build: 1}})
	if err == nil {
		t.Fatal("Assemble: want error for unsupported version")
	}
}

func TestNtBootPathNormalization(t *testing.T) {
	block, err := Assemble(BuildInput{
		Version:    VersionKey{Major: 10, Build: 17763},
		NtBootPath: `Windows\System32`,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got, want := block.StringRegion.NtBootPath, `\Windows\System32\`; got != want {
		t.Fatalf("NtBootPath = %q, want %q", got, want)
	}
}

func TestUnixNanosToNTTimeKnownEpoch(t *testing.T) {
	// 1970-01-01T00:00:00Z is 11644473600 seconds after the NT epoch.
	got := UnixNanosToNTTime(0)
	want := NTTime(11644473600 * 10_000_000)
	if got != want {
		t.Fatalf("UnixNanosToNTTime(0) = %d, want %d", got, want)
	}
}

func TestStringRegionBytesOrderAndTermination(t *testing.T) {
	r := StringRegion{
		ArcBootDevice: "multi(0)disk(0)rdisk(0)partition(1)",
		ArcHalDevice:  "multi(0)disk(0)rdisk(0)partition(1)",
		NtBootPath:    `\Windows\`,
		NtHalPath:     `\Windows\System32\`,
		LoadOptions:   "NOGUIBOOT",
	}
	b := r.Bytes()
	if b[len(r.ArcBootDevice)] != 0 {
		t.Fatal("ArcBootDevice not NUL-terminated at expected offset")
	}
}
