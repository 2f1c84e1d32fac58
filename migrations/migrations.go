package migrations

var migrations = []migration{
	{ID: "001_knownhosts", Up: knownhosts},
}
