package registry

import (
	"bytes"

	"howett.net/plist"
)

// installAsset and friends model the property list an iOS device fetches
// through an itms-services URL before performing an OTA install.
type installAsset struct {
	Kind string `plist:"kind"`
	URL  string `plist:"url"`
}

type installMetadata struct {
	BundleIdentifier string `plist:"bundle-identifier"`
	BundleVersion    string `plist:"bundle-version"`
	Kind             string `plist:"kind"`
	Title            string `plist:"title"`
}

type installItem struct {
	Assets   []installAsset  `plist:"assets"`
	Metadata installMetadata `plist:"metadata"`
}

type installManifest struct {
	Items []installItem `plist:"items"`
}

// renderInstallManifest builds the OTA install plist for one artifact. The
// software-package asset points at the direct download URL, so the device
// pulls the binary straight from the registry.
func renderInstallManifest(bundleID, version, title, downloadURL string) ([]byte, error) {
	manifest := installManifest{
		Items: []installItem{{
			Assets: []installAsset{{
				Kind: "software-package",
				URL:  downloadURL,
			}},
			Metadata: installMetadata{
				BundleIdentifier: bundleID,
				BundleVersion:    version,
				Kind:             "software",
				Title:            title,
			},
		}},
	}

	var buf bytes.Buffer
	enc := plist.NewEncoder(&buf)
	enc.Indent("\t")
	if err := enc.Encode(manifest); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
