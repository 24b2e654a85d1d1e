package config

const (
	defaultConfigPath                = "~/.config/sfwriter/config.toml"
	projectConfigName                = "sfwriter.toml"
	defaultReceiveTimeoutMS          = 100
	defaultRingSlots                 = 100
	defaultRingSlotBytes             = 2 * 1024 * 1024
	defaultRawDataset                = "data/raw_frames"
	defaultReadRetryIntervalMS       = 5
	defaultParametersRetryIntervalMS = 300
	defaultBusyTimeoutMS             = 5000
	defaultPulseIDField              = "pulse_id"
	defaultNotifyTimeoutSeconds      = 10
	defaultNotifyUserAgent           = "sfwriter/dev"
	defaultBindHost                  = "0.0.0.0"
	defaultReadHeaderTimeoutSeconds  = 5
	defaultShutdownTimeoutSeconds    = 5
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultShutdownDeadlineSeconds   = 30
	defaultForceExitGraceSeconds     = 5
	defaultFormatName                = "swissfel"
)

func defaultHeaderFields() map[string]string {
	return map[string]string{
		"pulse_id":      "uint64",
		"frame":         "uint64",
		"is_good_frame": "uint64",
		"daq_rec":       "int64",
	}
}

func defaultFormat() Format {
	return Format{
		Name: defaultFormatName,
		Parameters: map[string]string{
			"general/created":    "string",
			"general/user":       "string",
			"general/process":    "string",
			"general/instrument": "string",
		},
		Defaults: map[string]any{},
		Attributes: []FormatAttribute{
			{Path: "/general", Name: "created", Parameter: "general/created"},
			{Path: "/general", Name: "user", Parameter: "general/user"},
			{Path: "/general", Name: "process", Parameter: "general/process"},
			{Path: "/general", Name: "instrument", Parameter: "general/instrument"},
			{Path: "/", Name: "format", Value: defaultFormatName},
		},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Ingress: Ingress{
			ReceiveTimeoutMS: defaultReceiveTimeoutMS,
		},
		Ring: Ring{
			Slots:     defaultRingSlots,
			SlotBytes: defaultRingSlotBytes,
		},
		Storage: Storage{
			RawDataset:                defaultRawDataset,
			ReadRetryIntervalMS:       defaultReadRetryIntervalMS,
			ParametersRetryIntervalMS: defaultParametersRetryIntervalMS,
			BusyTimeoutMS:             defaultBusyTimeoutMS,
		},
		Header: Header{
			Fields:       defaultHeaderFields(),
			PulseIDField: defaultPulseIDField,
		},
		Notify: Notify{
			TimeoutSeconds: defaultNotifyTimeoutSeconds,
			UserAgent:      defaultNotifyUserAgent,
		},
		Control: Control{
			BindHost:                 defaultBindHost,
			ReadHeaderTimeoutSeconds: defaultReadHeaderTimeoutSeconds,
			ShutdownTimeoutSeconds:   defaultShutdownTimeoutSeconds,
		},
		Logging: Logging{
			Format:      defaultLogFormat,
			Level:       defaultLogLevel,
			OutputPaths: []string{"stdout"},
		},
		Shutdown: Shutdown{
			DeadlineSeconds:       defaultShutdownDeadlineSeconds,
			ForceExitGraceSeconds: defaultForceExitGraceSeconds,
		},
		Format: defaultFormat(),
	}
}
