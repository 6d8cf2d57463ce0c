package crush

// Tunables are the map-wide knobs the placement algorithm reads.
type Tunables struct {
	ChooseLocalTries         uint32 `yaml:"choose_local_tries"`
	ChooseLocalFallbackTries uint32 `yaml:"choose_local_fallback_tries"`
	ChooseTotalTries         uint32 `yaml:"choose_total_tries"`
	ChooseLeafDescendOnce    uint32 `yaml:"chooseleaf_descend_once"`
	ChooseLeafVaryR          uint8  `yaml:"chooseleaf_vary_r"`
	StrawCalcVersion         uint8  `yaml:"straw_calc_version"`
	AllowedBucketAlgs        uint32 `yaml:"allowed_bucket_algs"`
	ChooseLeafStable         uint8  `yaml:"chooseleaf_stable"`
}

// LegacyTunables is the argonaut profile, which is what a map without a
// tunables section decodes to.
func LegacyTunables() Tunables {
	return Tunables{
		ChooseLocalTries:         2,
		ChooseLocalFallbackTries: 5,
		ChooseTotalTries:         19,
		ChooseLeafDescendOnce:    0,
		ChooseLeafVaryR:          0,
		StrawCalcVersion:         0,
		AllowedBucketAlgs:        1<<AlgUniform | 1<<AlgList | 1<<AlgStraw,
		ChooseLeafStable:         0,
	}
}

// JewelTunables is the stable-mode baseline applied to synthesized maps.
func JewelTunables() Tunables {
	return Tunables{
		ChooseLocalTries:         0,
		ChooseLocalFallbackTries: 0,
		ChooseTotalTries:         50,
		ChooseLeafDescendOnce:    1,
		ChooseLeafVaryR:          1,
		StrawCalcVersion:         1,
		AllowedBucketAlgs:        1<<AlgUniform | 1<<AlgList | 1<<AlgStraw | 1<<AlgStraw2,
		ChooseLeafStable:         1,
	}
}
