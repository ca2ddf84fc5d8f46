package ingest

// SampleRows returns a small production sheet for demos and smoke tests.
func SampleRows() []Row {
	return []Row{
		{
			"PEDIDO":     "1402048642",
			"POS":        10.0,
			"PROYECTO":   `BOLSA ROGERS ENTERPRISES 10"X4"X7"75`,
			"COMPONENTE": "BOLSA",
			"MATERIAL":   "PP",
			"F PRD":      "2025-01-15",
			"CTD PEDIDO": 21000.0,
			"PLIEGOS":    1050.0,
			"MC FECHAS":  "2025-01-01",
			"IMPRESION":  true,
			"BARNIZ":     true,
			"LAMINADO":   false,
			"ESTAMPADO":  false,
			"REALZADO":   false,
			"TROQUELADO": true,
		},
		{
			"PEDIDO":     "1402048677",
			"POS":        10.0,
			"PROYECTO":   `BOLSA FRED MEYER 6"X3.5"X3"`,
			"COMPONENTE": "BOLSA",
			"MATERIAL":   "COUCHE",
			"F PRD":      "2025-01-20",
			"CTD PEDIDO": 39294.0,
			"PLIEGOS":    3600.0,
			"MC FECHAS":  "2025-01-02",
			"IMPRESION":  true,
			"BARNIZ":     false,
			"LAMINADO":   true,
			"ESTAMPADO":  true,
			"REALZADO":   false,
			"TROQUELADO": true,
		},
		{
			"PEDIDO":     "1402049207",
			"POS":        30.0,
			"PROYECTO":   `BOLSA PINOS JEWELERS 7"X5"X9"`,
			"COMPONENTE": "BOLSA",
			"MATERIAL":   "COUCHE",
			"F PRD":      "2025-01-10",
			"CTD PEDIDO": 14400.0,
			"PLIEGOS":    1200.0,
			"MC FECHAS":  "2025-01-03",
			"IMPRESION":  true,
			"BARNIZ":     true,
			"LAMINADO":   false,
			"ESTAMPADO":  false,
			"REALZADO":   true,
			"TROQUELADO": true,
		},
	}
}
