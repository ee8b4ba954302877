package featureflag

type Flag string

const (
	FlagEnableComponentLinking Flag = "ENABLE_COMPONENT_LINKING"
	FlagDisableReceipts        Flag = "DISABLE_RECEIPTS"
	FlagDisableResultCache     Flag = "DISABLE_RESULT_CACHE"
	FlagDisableStreaming       Flag = "DISABLE_STREAMING"
)
