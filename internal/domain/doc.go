// Package domain models GFS model output and the winter-weather forecast
// derived from it.
//
// # Data Source
//
// Grids come from the NOAA Global Forecast System (GFS) 0.25 degree product,
// served by NOMADS at https://nomads.ncep.noaa.gov/ through the grib filter
// (filter_gfs_0p25.pl), which crops a file to the requested variables,
// levels and bounding box before it is downloaded.
//
// # GFS Conventions
//
// Cycles:
//
//	Four runs a day, initialised at 00, 06, 12 and 18 UTC. A run is
//	identified by its init time, rendered "YYYYMMDD_HHZ" (see [RunID]).
//	Files appear over several hours after init; a run is treated as
//	complete six hours after its init time.
//
// Lead hours:
//
//	Forecast hour "fNNN" is the offset from init. This service reads every
//	sixth hour from f000 to f240, 41 files per run.
//
// Variables:
//
//	TMP at 2 m above ground, in Kelvin ([VarTemperature]).
//	APCP at the surface, kg m-2, which equals millimetres of liquid water
//	([VarPrecipitation]). A file may carry both the running 6-hour bucket and
//	the accumulation since init; the larger value at a node is the since-init
//	total, and 6-hour amounts are differences between consecutive lead hours.
//
// # Winter Weather Detection
//
// A 6-hour sample is wintry when its precipitation is at least 0.05 mm and
// its 2 m temperature is at or below 2.0 °C. Consecutive wintry samples form
// a window. Snow depth uses a 10:1 snow-to-liquid ratio and is bucketed:
//
//	< 0.5 in trace | < 3 in light | < 6 in moderate | >= 6 in heavy
//
// Windows from different runs whose starts lie within 18 hours are the same
// event. An event is reported only when at least two runs show it.
//
// # Tiers
//
// Lead time from now to window start decides the output section:
//
//	> 72 h        possible   (date range only)
//	24 h to 72 h  detailed   (timing, amount, category)
//	< 24 h        finalCall  (summary sentence plus detail)
//
// # ID Generation
//
// Alert IDs are deterministic SHA-256 hashes of location, run, tier and
// window start, so re-evaluating a run does not produce a new alert. See
// [NewForecastAlert].
package domain
