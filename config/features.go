package config

import "os"

type Features struct {
	BillingEnabled       bool
	AIEnabled            bool
	NotificationsEnabled bool
	PatchOnBoot          bool
}

func LoadFeatures() Features {
	return Features{
		BillingEnabled:       os.Getenv("BILLING_ENABLED") != "false",
		AIEnabled:            os.Getenv("AI_ENABLED") != "false",
		NotificationsEnabled: os.Getenv("NOTIFICATIONS_ENABLED") != "false",
		PatchOnBoot:          os.Getenv("PATCH_ON_BOOT") == "true",
	}
}
