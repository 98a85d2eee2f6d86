package cfdi

// Migrations is the Postgres schema of the Entity Store, applied in order by `cfdictl migrate`.
// Table names follow the legacy schema so existing console queries keep working.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS cfdi_emisores (
		id BIGSERIAL PRIMARY KEY,
		rfc VARCHAR(13) NOT NULL UNIQUE,
		nombre TEXT NOT NULL,
		regimen_fiscal VARCHAR(3) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cfdi_receptores (
		id BIGSERIAL PRIMARY KEY,
		rfc VARCHAR(13) NOT NULL UNIQUE,
		nombre TEXT NOT NULL,
		domicilio_fiscal_cp VARCHAR(5) NOT NULL,
		regimen_fiscal_receptor VARCHAR(3) NOT NULL,
		uso_cfdi VARCHAR(3) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cfdi_comprobantes (
		id BIGSERIAL PRIMARY KEY,
		uuid UUID NOT NULL UNIQUE,
		version TEXT NOT NULL DEFAULT '4.0',
		serie TEXT NOT NULL DEFAULT '',
		folio TEXT NOT NULL DEFAULT '',
		fecha_emision TIMESTAMPTZ NOT NULL,
		fecha_timbrado TIMESTAMPTZ NOT NULL,
		tipo_comprobante CHAR(1) NOT NULL,
		moneda CHAR(3) NOT NULL,
		exportacion TEXT NOT NULL,
		metodo_pago CHAR(3) NOT NULL,
		forma_pago TEXT NOT NULL DEFAULT '',
		lugar_expedicion_cp TEXT NOT NULL DEFAULT '',
		emisor_id BIGINT NOT NULL REFERENCES cfdi_emisores(id),
		receptor_id BIGINT NOT NULL REFERENCES cfdi_receptores(id),
		subtotal NUMERIC NOT NULL,
		descuento NUMERIC NOT NULL DEFAULT 0,
		impuestos NUMERIC NOT NULL DEFAULT 0,
		total NUMERIC(18,2) NOT NULL,
		estatus_sat VARCHAR(10) NOT NULL,
		fecha_cancelacion TIMESTAMPTZ,
		monto_pagado NUMERIC(18,2) NOT NULL DEFAULT 0,
		saldo NUMERIC(18,2) NOT NULL,
		liquidado BOOLEAN NOT NULL DEFAULT FALSE,
		fecha_pago TIMESTAMPTZ,
		fecha_recepcion TIMESTAMPTZ,
		fecha_programacion_pago TIMESTAMPTZ,
		fecha_vencimiento TIMESTAMPTZ,
		notas TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT cfdi_comprobantes_saldo_chk CHECK (saldo >= 0),
		CONSTRAINT cfdi_comprobantes_timbrado_chk CHECK (fecha_timbrado >= fecha_emision),
		CONSTRAINT cfdi_comprobantes_cancelacion_chk CHECK ((estatus_sat = 'Cancelado') = (fecha_cancelacion IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS cfdi_comprobantes_fecha_idx ON cfdi_comprobantes (fecha_emision DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS cfdi_comprobantes_emisor_idx ON cfdi_comprobantes (emisor_id)`,
	`CREATE TABLE IF NOT EXISTS cfdi_conceptos (
		id BIGSERIAL PRIMARY KEY,
		comprobante_id BIGINT NOT NULL REFERENCES cfdi_comprobantes(id) ON DELETE CASCADE,
		clave_prod_serv TEXT NOT NULL,
		no_identificacion TEXT NOT NULL DEFAULT '',
		cantidad NUMERIC NOT NULL CHECK (cantidad > 0),
		clave_unidad TEXT NOT NULL,
		unidad TEXT NOT NULL DEFAULT '',
		descripcion TEXT NOT NULL,
		valor_unitario NUMERIC NOT NULL CHECK (valor_unitario >= 0),
		importe NUMERIC NOT NULL,
		descuento NUMERIC NOT NULL DEFAULT 0,
		objeto_imp VARCHAR(2) NOT NULL,
		impuesto_codigo TEXT NOT NULL DEFAULT '',
		tipo_factor TEXT NOT NULL DEFAULT '',
		tasa_o_cuota NUMERIC NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS cfdi_conceptos_comprobante_idx ON cfdi_conceptos (comprobante_id)`,
	`CREATE TABLE IF NOT EXISTS pagos (
		id BIGSERIAL PRIMARY KEY,
		comprobante_id BIGINT NOT NULL REFERENCES cfdi_comprobantes(id) ON DELETE CASCADE,
		fecha_pago TIMESTAMPTZ NOT NULL,
		monto NUMERIC(18,2) NOT NULL CHECK (monto > 0),
		metodo TEXT NOT NULL DEFAULT '',
		referencia TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS pagos_comprobante_idx ON pagos (comprobante_id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		module TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		meta JSONB,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
