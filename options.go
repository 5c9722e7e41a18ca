package gpudisplay

// Option configures a Display created by Connect.
type Option func(*options)

type options struct {
	backend Backend
	appID   string
	title   string
}

// WithBackend replaces the native layer. It is mostly useful for
// testing, or to run against something other than a Wayland
// compositor. WithAppID and WithTitle have no effect on a custom
// backend.
func WithBackend(b Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithAppID sets the application ID reported for top-level surfaces.
func WithAppID(id string) Option {
	return func(o *options) {
		o.appID = id
	}
}

// WithTitle sets the title of top-level surfaces.
func WithTitle(title string) Option {
	return func(o *options) {
		o.title = title
	}
}
