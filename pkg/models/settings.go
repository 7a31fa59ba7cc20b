package models

// GlobalLimits is the singleton limits document under settings/globalLimits.
// Zero values mean "not configured"; the resolver falls through to the
// hardcoded defaults in that case.
type GlobalLimits struct {
	GalleryLimit int `json:"galleryLimit" bson:"galleryLimit"`
	DocLimit     int `json:"docLimit" bson:"docLimit"`
}

// Limit returns the configured value for the given kind (possibly zero).
func (g GlobalLimits) Limit(kind ItemKind) int {
	switch kind {
	case ItemKindGallery:
		return g.GalleryLimit
	case ItemKindDoc:
		return g.DocLimit
	}
	return 0
}

// AppConfig is the admin-editable branding/contact document under
// settings/appConfig.
type AppConfig struct {
	AdminContact string `json:"adminContact" bson:"adminContact"`
	AdminWebsite string `json:"adminWebsite" bson:"adminWebsite"`
	AppName      string `json:"appName" bson:"appName"`
}

// DefaultAppName is used when no appConfig document exists yet.
const DefaultAppName = "Caneko"
