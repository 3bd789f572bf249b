package refcodec

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"alpine",
		"alpine:latest",
		"example.com/app:1.0",
		"registry.example.com:5000/ns/app:2.0",
		"weird name/with spaces:tag!",
		"",
	}

	for _, name := range cases {
		encoded := Encode(name)
		decoded := Decode(encoded)
		if decoded != name {
			t.Errorf("round trip failed for %q: encoded=%q decoded=%q", name, encoded, decoded)
		}
	}
}

func TestEncodePassthrough(t *testing.T) {
	if got := Encode("abcXYZ019.-"); got != "abcXYZ019.-" {
		t.Errorf("expected passthrough characters unchanged, got %q", got)
	}
}

func TestEncodeEscapesOtherBytes(t *testing.T) {
	if got := Encode("a/b"); got != "a_2Fb" {
		t.Errorf("expected a_2Fb, got %q", got)
	}
	if got := Encode(":"); got != "_3A" {
		t.Errorf("expected _3A, got %q", got)
	}
}

func TestDecodeMalformedEscapeReturnsUnchanged(t *testing.T) {
	malformed := []string{"_ZZ", "_2", "abc_"}
	for _, m := range malformed {
		if got := Decode(m); got != m {
			t.Errorf("Decode(%q) = %q, want unchanged input", m, got)
		}
	}
}

func TestParseImageNameDefaults(t *testing.T) {
	ref := ParseImageName("alpine")
	if ref.Registry != "" || ref.Repository != "alpine" || ref.Tag != "latest" {
		t.Errorf("unexpected parse: %+v", ref)
	}
}

func TestParseImageNameWithRegistryAndTag(t *testing.T) {
	ref := ParseImageName("example.com/library/app:1.0")
	if ref.Registry != "example.com" || ref.Repository != "library/app" || ref.Tag != "1.0" {
		t.Errorf("unexpected parse: %+v", ref)
	}
}

func TestParseImageNameFirstSegmentWithoutDotIsRepository(t *testing.T) {
	ref := ParseImageName("library/app:1.0")
	if ref.Registry != "" || ref.Repository != "library/app" || ref.Tag != "1.0" {
		t.Errorf("expected no registry, got: %+v", ref)
	}
}

func TestParseImageNameOCIPrefixStripped(t *testing.T) {
	ref := ParseImageName("oci:example.com/app:1.0")
	if ref.Registry != "example.com" || ref.Repository != "app" || ref.Tag != "1.0" {
		t.Errorf("unexpected parse: %+v", ref)
	}
}

func TestBranchEncoding(t *testing.T) {
	ref := Ref{Repository: "alpine", Tag: "latest"}
	if ref.Branch() != "ociimage/alpine_3Alatest" {
		t.Errorf("unexpected branch: %s", ref.Branch())
	}
}

func TestLayerBranch(t *testing.T) {
	if got := LayerBranch("aaa"); got != "ociimage/aaa" {
		t.Errorf("unexpected layer branch: %s", got)
	}
}
