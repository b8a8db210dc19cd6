// Package cue provides embedded sample CUE modules wired with the imports
// convention understood by pkg/cuehost.
package cue

import "embed"

// PlatformFS contains the embedded platform CUE modules.
// This embeds all .cue files one level below the platform directory.
//
//go:embed platform/*/*.cue
var PlatformFS embed.FS

// PlatformDir is the root directory within the embedded filesystem.
const PlatformDir = "platform"

// WebserviceEntry is the entry module of the sample webservice platform,
// relative to PlatformDir.
const WebserviceEntry = "webservice/webservice.cue"
