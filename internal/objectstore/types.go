// Package objectstore is a content-addressed repository of immutable
// layer commits and image commits.
//
// Every layer is a commit whose ref is "ociimage/<digest>"; every image is
// a commit whose ref is "ociimage/<encoded-name>" and whose metadata holds
// docker.manifest (the raw manifest JSON) and, when known, docker.digest
// (the ImageId). Layer commits additionally own a content tree on disk
// (the extracted, filtered layer directory); image commits are
// zero-content and carry only metadata.
//
// The commit/ref/metadata vocabulary mirrors an ostree-backed repository,
// but there is no dependency on ostree itself: everything is implemented
// directly on top of a digest-addressed directory layout, reading and
// writing OCI image content without shelling out to another tool.
package objectstore

import "time"

// CommitKind distinguishes a layer commit (owns a content tree) from an
// image commit (zero-content, manifest-only).
type CommitKind string

const (
	KindLayer CommitKind = "layer"
	KindImage CommitKind = "image"
)

// Commit is the metadata sidecar persisted for every ref.
type Commit struct {
	Kind CommitKind `json:"kind"`

	// Layer commit fields.
	LayerDigest string `json:"docker.layer,omitempty"`
	Size        int64  `json:"docker.size,omitempty"`

	// Image commit fields.
	Manifest string `json:"docker.manifest,omitempty"`
	ImageID  string `json:"docker.digest,omitempty"`

	CreatedAt time.Time `json:"created"`
}

// ImageSummary is a read-only projection of an image branch, used by
// Resolve, Enumerate, and the Deployment Manager's "images" listing.
type ImageSummary struct {
	Branch   string
	Name     string // decoded image name, e.g. "example.com/app:1.0"
	ImageID  string
	Manifest string
	Size     int64
}
